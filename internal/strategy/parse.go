package strategy

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/atlasland/landscraper/internal/scrape"
)

// Meebhoomi renders the records-not-found message in Telugu on some pages.
const meebhoomiNoRecordsTelugu = "లేవు"

// parseMeebhoomi extracts a land record from a Meebhoomi result page. The
// results render as an ASP.NET GridView: one header row, then one row per
// owner holding record-level columns repeated.
func parseMeebhoomi(html string, job scrape.Job) (*scrape.ScrapedRecord, error) {
	if strings.Contains(html, "No Records Found") || strings.Contains(html, meebhoomiNoRecordsTelugu) {
		return nil, &scrape.NotFoundError{Message: "no land records found for survey " + job.Target()}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &scrape.ScraperError{Message: "parse result page: " + err.Error(), RawHTML: html}
	}

	table := findResultTable(doc)
	if table == nil {
		return nil, &scrape.ScraperError{Message: "no result table found in page", RawHTML: html}
	}

	cols := headerColumns(table)
	rows := table.Find("tr").FilterFunction(func(_ int, row *goquery.Selection) bool {
		return row.Find("td").Length() > 0
	})
	if rows.Length() == 0 {
		return nil, &scrape.ScraperError{Message: "result table has no data rows", RawHTML: html}
	}

	record := &scrape.ScrapedRecord{
		SurveyNumber: job.Target(),
		DistrictCode: job.DistrictCode,
		MandalCode:   job.MandalCode,
		VillageCode:  job.VillageCode,
		RawHTML:      html,
	}

	rows.Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td").Map(func(_ int, cell *goquery.Selection) string {
			return strings.TrimSpace(cell.Text())
		})
		get := func(key string) string {
			idx, ok := cols[key]
			if !ok || idx >= len(cells) {
				return ""
			}
			return cells[idx]
		}

		if i == 0 {
			if v := get("survey"); v != "" {
				record.SurveyNumber = v
			}
			record.SubDivision = get("subdivision")
			record.KhataNumber = get("khata")
			record.PattaNumber = get("patta")
			record.ExtentAcres = parseDecimal(get("acres"))
			record.ExtentGuntas = parseDecimal(get("guntas"))
			record.ExtentCents = parseDecimal(get("cents"))
			record.Classification = get("classification")
			record.LandNature = get("nature")
			record.WaterSource = get("water")
		}

		owner := scrape.ScrapedOwner{
			Name:            get("owner"),
			NameTelugu:      get("telugu"),
			FatherName:      get("father"),
			SharePercentage: parseDecimal(strings.TrimSuffix(get("share"), "%")),
		}
		if owner.Name != "" {
			record.Owners = append(record.Owners, owner)
		}
	})

	if len(record.Owners) == 0 {
		return nil, &scrape.ScraperError{Message: "result table yielded no owner rows", RawHTML: html}
	}
	return record, nil
}

// parseTelangana extracts a land record from a BhuBharati result page. The
// layout is a label/value detail table, with pattadar rows in a second grid.
func parseTelangana(html string, job scrape.Job) (*scrape.ScrapedRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &scrape.ScraperError{Message: "parse result page: " + err.Error(), RawHTML: html}
	}

	if doc.Find("table").Length() == 0 {
		return nil, &scrape.ScraperError{Message: "no result table found in page", RawHTML: html}
	}

	record := &scrape.ScrapedRecord{
		SurveyNumber: job.Target(),
		DistrictCode: job.DistrictCode,
		MandalCode:   job.MandalCode,
		VillageCode:  job.VillageCode,
		RawHTML:      html,
	}

	// Label/value rows: first cell is the label, second the value.
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td").Map(func(_ int, cell *goquery.Selection) string {
			return strings.TrimSpace(cell.Text())
		})
		if len(cells) < 2 {
			return
		}
		label := normalizeHeader(cells[0])
		value := cells[1]
		switch {
		case strings.Contains(label, "survey"):
			if value != "" {
				record.SurveyNumber = value
			}
		case strings.Contains(label, "khata"):
			record.KhataNumber = value
		case strings.Contains(label, "patta") && !strings.Contains(label, "pattadar"):
			record.PattaNumber = value
		case strings.Contains(label, "extent"):
			record.ExtentAcres = parseDecimal(value)
		case strings.Contains(label, "classification"):
			record.Classification = value
		case strings.Contains(label, "nature"):
			record.LandNature = value
		case strings.Contains(label, "water"):
			record.WaterSource = value
		case strings.Contains(label, "pattadar") && !strings.Contains(label, "father"):
			if value != "" {
				record.Owners = append(record.Owners, scrape.ScrapedOwner{Name: value})
			}
		case strings.Contains(label, "father"):
			if n := len(record.Owners); n > 0 {
				record.Owners[n-1].FatherName = value
			}
		}
	})

	if len(record.Owners) == 0 {
		return nil, &scrape.ScraperError{Message: "result page yielded no pattadar rows", RawHTML: html}
	}
	return record, nil
}

// findResultTable returns the first table that looks like a result grid:
// known GridView IDs first, then any table with both header and data rows.
func findResultTable(doc *goquery.Document) *goquery.Selection {
	for _, sel := range []string{"table[id*='gvROR']", "table[id*='gvAdangal']", "table[id*='gvDetails']"} {
		if t := doc.Find(sel).First(); t.Length() > 0 {
			return t
		}
	}
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, t *goquery.Selection) bool {
		if t.Find("th").Length() > 0 && t.Find("td").Length() > 0 {
			found = t
			return false
		}
		return true
	})
	return found
}

// headerColumns maps semantic keys to column indexes by keyword-matching the
// header row. The portal shuffles column order between documents.
func headerColumns(table *goquery.Selection) map[string]int {
	cols := make(map[string]int)
	table.Find("th").Each(func(i int, th *goquery.Selection) {
		header := normalizeHeader(th.Text())
		switch {
		case strings.Contains(header, "sub") && strings.Contains(header, "division"):
			cols["subdivision"] = i
		case strings.Contains(header, "survey"):
			cols["survey"] = i
		case strings.Contains(header, "khata"):
			cols["khata"] = i
		case strings.Contains(header, "patta") && !strings.Contains(header, "pattadar"):
			cols["patta"] = i
		case strings.Contains(header, "telugu"):
			cols["telugu"] = i
		case strings.Contains(header, "father"):
			cols["father"] = i
		case strings.Contains(header, "owner") || strings.Contains(header, "pattadar"):
			cols["owner"] = i
		case strings.Contains(header, "acre"):
			cols["acres"] = i
		case strings.Contains(header, "gunta"):
			cols["guntas"] = i
		case strings.Contains(header, "cent"):
			cols["cents"] = i
		case strings.Contains(header, "share"):
			cols["share"] = i
		case strings.Contains(header, "classification"):
			cols["classification"] = i
		case strings.Contains(header, "nature"):
			cols["nature"] = i
		case strings.Contains(header, "water"):
			cols["water"] = i
		}
	})
	return cols
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// parseDecimal reads a numeric cell, returning 0 for blanks and dashes.
func parseDecimal(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
