package extract

import (
	"net/mail"
	"net/url"
	"strings"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/storage"
)

// SocialLink is a profile URL on a named platform.
type SocialLink struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

// Candidate is the model's structured guess at a lead. It is never persisted
// directly; ingestion turns it into a storage.Lead.
type Candidate struct {
	Name         string           `json:"name"`
	Email        string           `json:"email,omitempty"`
	Bio          string           `json:"bio"`
	Category     storage.Category `json:"category"`
	SocialLinks  []SocialLink     `json:"socialLinks,omitempty"`
	Expertise    []string         `json:"expertise,omitempty"`
	Organization string           `json:"organization,omitempty"`
	Location     string           `json:"location,omitempty"`
}

// Validate checks the candidate against the extraction shape. Errors carry
// kind ValidationFailure.
func (c Candidate) Validate() error {
	if c.Name == "" {
		return apperr.New(apperr.ValidationFailure, "candidate name is empty")
	}
	if c.Bio == "" {
		return apperr.New(apperr.ValidationFailure, "candidate bio is empty")
	}
	if !c.Category.Valid() {
		return apperr.New(apperr.ValidationFailure, "candidate category %q is not one of influencer, journalist, publisher", c.Category)
	}
	if c.Email != "" {
		addr, err := mail.ParseAddress(c.Email)
		if err != nil || addr.Address != c.Email {
			return apperr.New(apperr.ValidationFailure, "candidate email %q is not a valid address", c.Email)
		}
	}
	for _, l := range c.SocialLinks {
		u, err := url.Parse(l.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return apperr.New(apperr.ValidationFailure, "social link %q is not an absolute URL", l.URL)
		}
	}
	return nil
}

// EmbeddingText is the canonical text a lead's embedding is derived from.
func (c Candidate) EmbeddingText() string {
	parts := []string{c.Name, string(c.Category), c.Bio}
	if c.Organization != "" {
		parts = append(parts, "Works at "+c.Organization)
	}
	if len(c.Expertise) > 0 {
		parts = append(parts, "Expert in: "+strings.Join(c.Expertise, ", "))
	}
	if c.Location != "" {
		parts = append(parts, "Located in "+c.Location)
	}
	return joinNonEmpty(parts, ". ")
}

// AdditionalContext renders the fields that have no column on storage.Lead,
// one per line, for the lead's memory note.
func (c Candidate) AdditionalContext() string {
	var lines []string
	if c.Organization != "" {
		lines = append(lines, "Organization: "+c.Organization)
	}
	if c.Location != "" {
		lines = append(lines, "Location: "+c.Location)
	}
	if len(c.Expertise) > 0 {
		lines = append(lines, "Expertise: "+strings.Join(c.Expertise, ", "))
	}
	if len(c.SocialLinks) > 0 {
		platforms := make([]string, len(c.SocialLinks))
		for i, l := range c.SocialLinks {
			platforms[i] = l.Platform
		}
		lines = append(lines, "Social profiles: "+strings.Join(platforms, ", "))
	}
	return strings.Join(lines, "\n")
}

// clean trims every field and turns the literal string "null", which models
// emit for absent optionals, into the empty value.
func (c Candidate) clean() Candidate {
	c.Name = nullable(c.Name)
	c.Email = nullable(c.Email)
	c.Bio = nullable(c.Bio)
	c.Category = storage.Category(strings.ToLower(nullable(string(c.Category))))
	c.Organization = nullable(c.Organization)
	c.Location = nullable(c.Location)

	expertise := c.Expertise[:0:0]
	for _, e := range c.Expertise {
		if e = nullable(e); e != "" {
			expertise = append(expertise, e)
		}
	}
	c.Expertise = expertise

	links := c.SocialLinks[:0:0]
	for _, l := range c.SocialLinks {
		l.Platform, l.URL = nullable(l.Platform), nullable(l.URL)
		if l.URL != "" {
			links = append(links, l)
		}
	}
	c.SocialLinks = links
	return c
}

func nullable(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") {
		return ""
	}
	return s
}

func joinNonEmpty(parts []string, sep string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
