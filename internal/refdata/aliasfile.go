package refdata

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/wahldaten/poll-pipeline/internal/model"
)

// AliasFile is the on-disk YAML form of the reference data. New aliases are a
// data change in this file, never a code change.
type AliasFile struct {
	Institutes []aliasedEntity `yaml:"institutes"`
	Parties    []partyEntity   `yaml:"parties"`
	Providers  []aliasedEntity `yaml:"providers"`
	Methods    []aliasedEntity `yaml:"methods"`
	Elections  []electionEntry `yaml:"elections"`
}

type aliasedEntity struct {
	ID        int64    `yaml:"id"`
	Name      string   `yaml:"name"`
	ShortName string   `yaml:"short_name,omitempty"`
	Aliases   []string `yaml:"aliases,omitempty"`
}

type partyEntity struct {
	ID        int64    `yaml:"id"`
	Name      string   `yaml:"name"`
	ShortName string   `yaml:"short_name,omitempty"`
	Color     string   `yaml:"color,omitempty"`
	Aliases   []string `yaml:"aliases,omitempty"`
}

type electionEntry struct {
	ID      int64    `yaml:"id"`
	Name    string   `yaml:"name"`
	Scope   string   `yaml:"scope"`
	Date    string   `yaml:"date"` // YYYY-MM-DD
	Aliases []string `yaml:"aliases,omitempty"`
}

// LoadAliasFile reads a YAML reference-data file into a ReferenceSet.
func LoadAliasFile(path string) (*model.ReferenceSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: read alias file %s", path)
	}
	return ParseAliasFile(data)
}

// ParseAliasFile decodes YAML reference data.
func ParseAliasFile(data []byte) (*model.ReferenceSet, error) {
	var f AliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "refdata: parse alias file")
	}

	set := &model.ReferenceSet{}

	for _, e := range f.Institutes {
		set.Institutes = append(set.Institutes, model.Institute{ID: e.ID, Name: e.Name, ShortName: e.ShortName})
		appendAliases(set, model.KindInstitute, e.ID, e.Aliases)
	}
	for _, e := range f.Parties {
		set.Parties = append(set.Parties, model.Party{ID: e.ID, Name: e.Name, ShortName: e.ShortName, Color: e.Color})
		appendAliases(set, model.KindParty, e.ID, e.Aliases)
	}
	for _, e := range f.Providers {
		set.Providers = append(set.Providers, model.Provider{ID: e.ID, Name: e.Name})
		appendAliases(set, model.KindProvider, e.ID, e.Aliases)
	}
	for _, e := range f.Methods {
		set.Methods = append(set.Methods, model.Method{ID: e.ID, Name: e.Name})
		appendAliases(set, model.KindMethod, e.ID, e.Aliases)
	}
	for _, e := range f.Elections {
		date, err := time.Parse("2006-01-02", e.Date)
		if err != nil {
			return nil, eris.Wrapf(err, "refdata: election %q: bad date %q", e.Name, e.Date)
		}
		set.Elections = append(set.Elections, model.Election{
			ID:    e.ID,
			Name:  e.Name,
			Scope: model.ParseScope(e.Scope),
			Date:  date,
		})
		appendAliases(set, model.KindElection, e.ID, e.Aliases)
	}

	return set, nil
}

func appendAliases(set *model.ReferenceSet, kind model.EntityKind, id int64, texts []string) {
	for _, t := range texts {
		set.Aliases = append(set.Aliases, model.Alias{Kind: kind, EntityID: id, Text: t})
	}
}
