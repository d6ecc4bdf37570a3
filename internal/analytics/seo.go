package analytics

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
)

// Etsy listing limits used by the score.
const (
	maxTags          = 13
	goodImages       = 5
	goodTitleMin     = 100
	okTitleMin       = 60
	goodDescription  = 300
	okDescription    = 100
	lowAvgSEOScore   = 60.0
	issueShortTitle  = "short_title"
	issueFewTags     = "few_tags"
	issueFewImages   = "few_images"
	issueShortDesc   = "short_description"
	issueNoMaterials = "no_materials"
)

var imageColumn = regexp.MustCompile(`(?i)^image\d+$`)

// listingImages counts photos: an explicit Images count, or the non-empty
// IMAGE1..IMAGE10 URL columns of the Etsy export.
func listingImages(t *Table, i int) int {
	if t.Has(ColImages) {
		n, _ := ParseNumber(t.Value(i, ColImages))
		return int(n)
	}
	n := 0
	for j, h := range t.Header {
		if imageColumn.MatchString(h) && t.Rows[i][j] != "" {
			n++
		}
	}
	return n
}

func splitTags(s string) []string {
	var out []string
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// scoreListing rates a listing out of 100: title 25, tags 25, images 20,
// description 20, materials 10.
func scoreListing(title, description, tags, materials string, images int) domain.ListingScore {
	ls := domain.ListingScore{
		Title:             title,
		TitleLength:       utf8.RuneCountInString(title),
		Tags:              len(splitTags(tags)),
		Images:            images,
		DescriptionLength: utf8.RuneCountInString(description),
		Issues:            []string{},
	}

	switch {
	case ls.TitleLength >= goodTitleMin:
		ls.Score += 25
	case ls.TitleLength >= okTitleMin:
		ls.Score += 15
	default:
		if ls.TitleLength > 0 {
			ls.Score += 5
		}
		ls.Issues = append(ls.Issues, issueShortTitle)
	}

	ls.Score += 25 * min(ls.Tags, maxTags) / maxTags
	if ls.Tags < maxTags {
		ls.Issues = append(ls.Issues, issueFewTags)
	}

	if images >= goodImages {
		ls.Score += 20
	} else {
		ls.Score += 4 * max(images, 0)
		ls.Issues = append(ls.Issues, issueFewImages)
	}

	switch {
	case ls.DescriptionLength >= goodDescription:
		ls.Score += 20
	case ls.DescriptionLength >= okDescription:
		ls.Score += 10
		ls.Issues = append(ls.Issues, issueShortDesc)
	default:
		ls.Issues = append(ls.Issues, issueShortDesc)
	}

	if strings.TrimSpace(materials) != "" {
		ls.Score += 10
	} else {
		ls.Issues = append(ls.Issues, issueNoMaterials)
	}
	return ls
}

func computeSEO(t *Table) (*domain.SEOReport, error) {
	rep := &domain.SEOReport{Issues: make(map[string]int)}

	var badPrices int
	priced, priceSum, scoreSum := 0, 0.0, 0
	for i := 0; i < t.Len(); i++ {
		title := t.Value(i, ColTitle)
		if title == "" {
			continue
		}
		ls := scoreListing(title, t.Value(i, ColDescription), t.Value(i, ColTags), t.Value(i, ColMaterials), listingImages(t, i))
		rep.Scores = append(rep.Scores, ls)
		scoreSum += ls.Score
		for _, issue := range ls.Issues {
			rep.Issues[issue]++
		}

		if p, ok := ParseNumber(t.Value(i, ColPrice)); ok && p > 0 {
			priced++
			priceSum += p
		} else {
			badPrices++
		}
	}

	if len(rep.Scores) == 0 {
		return nil, &domain.ErrDataFormat{Reason: "no listing with a title"}
	}

	rep.Listings = len(rep.Scores)
	rep.AvgScore = round2(float64(scoreSum) / float64(rep.Listings))
	if priced > 0 {
		rep.AvgPrice = round2(priceSum / float64(priced))
	}
	if badPrices > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d listings have no readable price", badPrices))
	}

	// weakest listings first
	sort.SliceStable(rep.Scores, func(i, j int) bool { return rep.Scores[i].Score < rep.Scores[j].Score })
	rep.Recommendations = seoRecommendations(rep)
	return rep, nil
}

func seoRecommendations(rep *domain.SEOReport) []domain.Recommendation {
	var recs []domain.Recommendation
	if rep.AvgScore < lowAvgSEOScore {
		recs = append(recs, domain.Recommendation{
			Priority: "high",
			Title:    "Rework your weakest listings",
			Body:     fmt.Sprintf("Your average SEO score is **%.0f/100**. Start with *%s*.", rep.AvgScore, rep.Scores[0].Title),
		})
	}
	if n := rep.Issues[issueShortTitle]; n > 0 {
		recs = append(recs, domain.Recommendation{
			Priority: "medium",
			Title:    "Use longer titles",
			Body:     fmt.Sprintf("%d listing(s) have titles under %d characters. Put the main keywords first, then materials, style and occasion.", n, okTitleMin),
		})
	}
	if n := rep.Issues[issueFewTags]; n > 0 {
		recs = append(recs, domain.Recommendation{
			Priority: "medium",
			Title:    "Fill all 13 tags",
			Body:     fmt.Sprintf("%d listing(s) leave tags unused. Every empty tag is a search you cannot appear in.", n),
		})
	}
	if n := rep.Issues[issueFewImages]; n > 0 {
		recs = append(recs, domain.Recommendation{
			Priority: "medium",
			Title:    "Add photos",
			Body:     fmt.Sprintf("%d listing(s) have fewer than %d photos. Show scale, detail and the item in use.", n, goodImages),
		})
	}
	return recs
}
