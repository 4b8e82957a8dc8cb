package strategy

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atlasland/landscraper/internal/captcha"
	"github.com/atlasland/landscraper/internal/scrape"
)

// BhuBharati "know land status" form controls.
const (
	telanganaDistrictSelect = "#districtID"
	telanganaMandalSelect   = "#mandalID"
	telanganaVillageSelect  = "#villageId"
	telanganaSurveySelect   = "#surveyIdselect"
	telanganaCaptchaImage   = "img#imgcapcha"
	telanganaCaptchaInput   = "#captchavalue"
	telanganaFetchButton    = "input[value='Fetch']"
)

// Result-page markers. The portal reports both outcomes as inline text, not
// HTTP errors.
const (
	telanganaInvalidCaptchaMarker = "Invalid Captcha"
	telanganaNoDetailsMarker      = "No Details Found"
)

// telanganaStrategy scrapes the Telangana BhuBharati land status portal. No
// phone login is required; the only gate is an image captcha.
type telanganaStrategy struct {
	url     string
	captcha *captchaFlow
	logger  *zap.Logger
}

func (s *telanganaStrategy) Run(ctx context.Context, page scrape.Page, job scrape.Job, captchaSolution string) (*scrape.ScrapedRecord, error) {
	s.logger.Info("starting scrape",
		zap.String("district", job.DistrictCode),
		zap.String("mandal", job.MandalCode),
		zap.String("village", job.VillageCode),
		zap.String("survey", job.Target()),
	)

	if err := page.Navigate(ctx, s.url); err != nil {
		return nil, err
	}
	if err := page.WaitForSelector(ctx, telanganaDistrictSelect, 10*time.Second); err != nil {
		return nil, err
	}

	if err := page.SelectOption(ctx, telanganaDistrictSelect, job.DistrictCode); err != nil {
		return nil, err
	}
	if err := waitForOption(ctx, page, telanganaMandalSelect, job.MandalCode); err != nil {
		return nil, err
	}
	if err := page.SelectOption(ctx, telanganaMandalSelect, job.MandalCode); err != nil {
		return nil, err
	}
	if err := waitForOption(ctx, page, telanganaVillageSelect, job.VillageCode); err != nil {
		return nil, err
	}
	if err := page.SelectOption(ctx, telanganaVillageSelect, job.VillageCode); err != nil {
		return nil, err
	}

	// Survey numbers are a dropdown here, populated from the village.
	if err := waitForOption(ctx, page, telanganaSurveySelect, job.Target()); err != nil {
		return nil, err
	}
	if err := page.SelectOption(ctx, telanganaSurveySelect, job.Target()); err != nil {
		return nil, err
	}

	if err := page.WaitForSelector(ctx, telanganaCaptchaImage, 5*time.Second); err != nil {
		return nil, err
	}
	solution, err := s.captcha.resolve(ctx, page, captchaSolution)
	if err != nil {
		return nil, err
	}
	if err := page.TypeText(ctx, telanganaCaptchaInput, solution); err != nil {
		return nil, err
	}
	if err := page.Click(ctx, telanganaFetchButton); err != nil {
		return nil, err
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}

	if strings.Contains(html, telanganaInvalidCaptchaMarker) {
		// A wrong automated guess pauses the job for an operator rather
		// than failing it. The portal rotates the image on rejection, so
		// capture a fresh challenge for the dashboard.
		s.logger.Warn("portal rejected captcha solution")
		image, capErr := s.captcha.capture(ctx, page)
		if capErr != nil {
			return nil, capErr
		}
		return nil, &scrape.CaptchaRequiredError{ImageBase64: captcha.Encode(image)}
	}
	if strings.Contains(html, telanganaNoDetailsMarker) {
		return nil, &scrape.NotFoundError{Message: "no land records found for survey " + job.Target()}
	}

	record, err := parseTelangana(html, job)
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
