package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// WriteXLSXFile writes a workbook with a Polls sheet (one row per poll) and
// a Results sheet (one row per poll-party pair).
func (d *Dataset) WriteXLSXFile(path string) error {
	f := xlsx.NewFile()

	polls, err := f.AddSheet("Polls")
	if err != nil {
		return eris.Wrap(err, "export: add Polls sheet")
	}
	addHeaderRow(polls, "id", "publish_date", "survey_start", "survey_end", "respondents",
		"institute", "provider", "scope", "source_url")
	for _, p := range d.Polls {
		row := polls.AddRow()
		row.AddCell().SetInt64(p.ID)
		row.AddCell().SetString(p.PublishDate.Format("2006-01-02"))
		row.AddCell().SetString(formatDatePtr(p.SurveyStart))
		row.AddCell().SetString(formatDatePtr(p.SurveyEnd))
		if p.Respondents != nil {
			row.AddCell().SetInt(*p.Respondents)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetString(d.instituteName(p.InstituteID))
		row.AddCell().SetString(d.providerName(p.ProviderID))
		row.AddCell().SetString(string(p.Scope))
		row.AddCell().SetString(p.SourceURL)
	}

	results, err := f.AddSheet("Results")
	if err != nil {
		return eris.Wrap(err, "export: add Results sheet")
	}
	addHeaderRow(results, "poll_id", "publish_date", "institute", "party", "percentage", "out_of_range")
	for _, r := range d.Rows {
		row := results.AddRow()
		row.AddCell().SetInt64(r.PollID)
		row.AddCell().SetString(r.PublishDate.Format("2006-01-02"))
		row.AddCell().SetString(d.instituteName(r.InstituteID))
		row.AddCell().SetString(d.partyName(r.PartyID))
		row.AddCell().SetFloat(r.Percentage)
		row.AddCell().SetBool(r.OutOfRange)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func addHeaderRow(sheet *xlsx.Sheet, names ...string) {
	row := sheet.AddRow()
	for _, n := range names {
		row.AddCell().SetString(n)
	}
}
