package leads

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/storage"
)

// SeedRelationshipTypes are the edge types used for demo relationships.
var SeedRelationshipTypes = []string{
	"collaborated_with",
	"mentioned_by",
	"partnered_with",
	"interviewed_by",
	"featured_in",
}

var (
	seedFirstNames = []string{"Ava", "Liam", "Maya", "Noah", "Priya", "Mateo", "Chloe", "Kenji", "Zara", "Owen", "Lena", "Diego", "Nadia", "Elias", "Ruth"}
	seedLastNames  = []string{"Hart", "Okafor", "Lindqvist", "Moreau", "Tanaka", "Reyes", "Castillo", "Novak", "Brennan", "Iyer", "Fischer", "Adeyemi", "Walsh", "Kowalski", "Sato"}
	seedCities     = []string{"Lisbon", "Austin", "Berlin", "Toronto", "Melbourne", "Nairobi", "Seoul", "Denver"}
	seedCompanies  = []string{"Northwind", "Brightline", "Copperleaf", "Bluefield", "Redwood", "Silverpine"}

	seedNiches      = []string{"lifestyle", "tech", "fashion", "fitness", "travel", "food"}
	seedBeats       = []string{"technology", "business", "politics", "culture", "science"}
	seedOutlets     = []string{"The Guardian", "Reuters", "Bloomberg", "TechCrunch", "The Wall Street Journal"}
	seedSeniority   = []string{"senior", "investigative", "freelance", "staff"}
	seedEditorRoles = []string{"Editor-in-Chief", "Managing Editor", "Publisher", "Content Director"}
	seedFocus       = []string{"content curation", "audience development", "monetization strategies", "editorial planning"}

	seedDomains = map[storage.Category][]string{
		storage.CategoryInfluencer: {"instagram.com", "tiktok.com", "youtube.com"},
		storage.CategoryJournalist: {"linkedin.com", "muckrack.com", "medium.com"},
		storage.CategoryPublisher:  {"linkedin.com", "crunchbase.com"},
	}
)

// SeedOptions controls demo data generation.
type SeedOptions struct {
	PerCategory   int
	Relationships int
	// Rand drives every random choice. Defaults to a time-seeded source.
	Rand *rand.Rand
}

// SeedResult counts what Seed wrote.
type SeedResult struct {
	Created       int `json:"created"`
	Skipped       int `json:"skipped"`
	Relationships int `json:"relationships"`
}

// Seed fills the store with demo leads and random relationships between
// them. Leads whose email already exists are skipped, so running it twice
// with the same Rand seed adds nothing new.
func (s *Service) Seed(ctx context.Context, opts SeedOptions) (SeedResult, error) {
	if opts.PerCategory <= 0 {
		opts.PerCategory = 5
	}
	if opts.Relationships < 0 {
		opts.Relationships = 0
	}
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	var res SeedResult
	var ids []string
	seen := make(map[string]bool)
	keep := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, category := range storage.Categories {
		for i := 0; i < opts.PerCategory; i++ {
			in := seedLead(r, category)
			created, err := s.CreateLead(ctx, in)
			switch {
			case err == nil:
				res.Created++
				keep(created.ID)
				s.logger.Info("seeded lead", "lead_id", created.ID, "category", category, "name", created.Name)
			case apperr.Is(err, apperr.DuplicateEmail):
				res.Skipped++
				if existing, err := s.store.GetLeadByEmail(ctx, in.Email); err == nil {
					keep(existing.ID)
				}
			default:
				return res, fmt.Errorf("seeding %s lead: %w", category, err)
			}
		}
	}

	if len(ids) < 2 {
		return res, nil
	}
	for i := 0; i < opts.Relationships; i++ {
		a := ids[r.IntN(len(ids))]
		b := ids[r.IntN(len(ids))]
		for b == a {
			b = ids[r.IntN(len(ids))]
		}
		typ := SeedRelationshipTypes[r.IntN(len(SeedRelationshipTypes))]
		_, err := s.AddRelationship(ctx, a, b, typ)
		switch {
		case err == nil:
			res.Relationships++
		case apperr.Is(err, apperr.ValidationFailure):
			// Already related this way.
		default:
			return res, fmt.Errorf("seeding relationship: %w", err)
		}
	}
	return res, nil
}

func seedLead(r *rand.Rand, category storage.Category) Input {
	first := pick(r, seedFirstNames)
	last := pick(r, seedLastNames)
	name := first + " " + last

	var bio string
	switch category {
	case storage.CategoryInfluencer:
		bio = fmt.Sprintf("%s is a %s influencer with %d followers. Based in %s, they specialize in brand partnerships and product reviews.",
			first, pick(r, seedNiches), 10_000+r.IntN(990_000), pick(r, seedCities))
	case storage.CategoryJournalist:
		bio = fmt.Sprintf("%s is a %s journalist at %s covering %s. With %d years of experience, they've written for %s.",
			name, pick(r, seedSeniority), pick(r, seedCompanies), pick(r, seedBeats), 5+r.IntN(16), pick(r, seedOutlets))
	default:
		bio = fmt.Sprintf("%s is the %s of %s Media, reaching %d monthly readers. Their expertise includes %s.",
			name, pick(r, seedEditorRoles), pick(r, seedCompanies), 100_000+r.IntN(9_900_000), pick(r, seedFocus))
	}

	handle := strings.ToLower(first + last)
	return Input{
		Name:      name,
		Email:     strings.ToLower(first+"."+last) + "@example.com",
		Bio:       bio,
		Category:  category,
		SourceURL: "https://" + pick(r, seedDomains[category]) + "/" + handle,
	}
}

func pick(r *rand.Rand, s []string) string {
	return s[r.IntN(len(s))]
}
