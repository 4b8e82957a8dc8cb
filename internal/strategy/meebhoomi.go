package strategy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atlasland/landscraper/internal/auth"
	"github.com/atlasland/landscraper/internal/scrape"
)

// Meebhoomi form controls. The portal is a classic ASP.NET page; control IDs
// are stable across the ROR and Adangal documents.
const (
	meebhoomiDistrictSelect = "#ctl00_ContentPlaceHolder1_ddlDist"
	meebhoomiMandalSelect   = "#ctl00_ContentPlaceHolder1_ddlMandal"
	meebhoomiVillageSelect  = "#ctl00_ContentPlaceHolder1_ddlVillage"
	meebhoomiSurveyInput    = "#ctl00_ContentPlaceHolder1_txtSurveyNo"
	meebhoomiCaptchaInput   = "#ctl00_ContentPlaceHolder1_txtcaptcha"
	meebhoomiSearchButton   = "#ctl00_ContentPlaceHolder1_btnSearch"
)

type meebhoomiDoc string

const (
	docROR     meebhoomiDoc = "1b"
	docAdangal meebhoomiDoc = "adangal"
)

// meebhoomiStrategy scrapes the AP Meebhoomi portal. The 1B (record of
// rights) and Adangal (village account) documents share one form; only the
// entry URL and result layout differ.
type meebhoomiStrategy struct {
	url     string
	doc     meebhoomiDoc
	captcha *captchaFlow
	login   *auth.Flow
	logger  *zap.Logger
}

func (s *meebhoomiStrategy) Run(ctx context.Context, page scrape.Page, job scrape.Job, captchaSolution string) (*scrape.ScrapedRecord, error) {
	s.logger.Info("starting scrape",
		zap.String("document", string(s.doc)),
		zap.String("district", job.DistrictCode),
		zap.String("mandal", job.MandalCode),
		zap.String("village", job.VillageCode),
		zap.String("survey", job.Target()),
	)

	if err := page.Navigate(ctx, s.url); err != nil {
		return nil, err
	}
	if s.login != nil {
		if err := s.login.Login(ctx, page); err != nil {
			return nil, fmt.Errorf("otp login: %w", err)
		}
	}
	if err := page.WaitForSelector(ctx, meebhoomiDistrictSelect, 10*time.Second); err != nil {
		return nil, err
	}

	// Each select repopulates the next via a postback; wait for the
	// dependent option to materialize before selecting it.
	if err := page.SelectOption(ctx, meebhoomiDistrictSelect, job.DistrictCode); err != nil {
		return nil, err
	}
	if err := waitForOption(ctx, page, meebhoomiMandalSelect, job.MandalCode); err != nil {
		return nil, err
	}
	if err := page.SelectOption(ctx, meebhoomiMandalSelect, job.MandalCode); err != nil {
		return nil, err
	}
	if err := waitForOption(ctx, page, meebhoomiVillageSelect, job.VillageCode); err != nil {
		return nil, err
	}
	if err := page.SelectOption(ctx, meebhoomiVillageSelect, job.VillageCode); err != nil {
		return nil, err
	}

	if err := page.TypeText(ctx, meebhoomiSurveyInput, job.Target()); err != nil {
		return nil, err
	}

	solution, err := s.captcha.resolve(ctx, page, captchaSolution)
	if err != nil {
		return nil, err
	}
	if err := page.TypeText(ctx, meebhoomiCaptchaInput, solution); err != nil {
		return nil, err
	}
	if err := page.Click(ctx, meebhoomiSearchButton); err != nil {
		return nil, err
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}

	record, err := parseMeebhoomi(html, job)
	if err != nil {
		return nil, err
	}
	record.SourceURL = s.url

	s.logger.Info("scrape completed",
		zap.String("survey", record.SurveyNumber),
		zap.Int("owners", len(record.Owners)),
	)
	return record, nil
}

// waitForOption blocks until the given option value appears inside a select,
// which is how the portal signals the dependent dropdown finished loading.
func waitForOption(ctx context.Context, page scrape.Page, selectSel, value string) error {
	optionSel := fmt.Sprintf("%s option[value='%s']", selectSel, value)
	return page.WaitForSelector(ctx, optionSel, 10*time.Second)
}
