package analytics

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listings(content string) []domain.UploadedFile {
	return []domain.UploadedFile{{Name: "listings.csv", Role: domain.FileRoleListings, Content: []byte(content)}}
}

func TestSEO_Scores(t *testing.T) {
	e, _ := newTestEngine(t)

	longTitle := strings.Repeat("handmade silver ring ", 6)
	longDesc := strings.Repeat("a delicate piece ", 20)
	tags := `"` + strings.TrimSuffix(strings.Repeat("tag,", 13), ",") + `"`
	content := "TITLE,DESCRIPTION,PRICE,TAGS,MATERIALS,IMAGE1,IMAGE2,IMAGE3,IMAGE4,IMAGE5\n" +
		longTitle + "," + longDesc + ",45.00," + tags + ",silver,a,b,c,d,e\n" +
		"Ring,,12.00,\"a,b\",,a,,,,\n"

	res, err := e.Analyze(context.Background(), domain.AnalysisInput{Dashboard: domain.DashboardSEO, Files: listings(content)})
	require.NoError(t, err)
	rep := res.SEO
	require.NotNil(t, rep)

	assert.Equal(t, 2, rep.Listings)
	require.Len(t, rep.Scores, 2)
	assert.Equal(t, "Ring", rep.Scores[0].Title)
	assert.Equal(t, 12, rep.Scores[0].Score)
	assert.Equal(t, 1, rep.Scores[0].Images)
	assert.ElementsMatch(t, []string{"short_title", "few_tags", "few_images", "short_description", "no_materials"}, rep.Scores[0].Issues)
	assert.Equal(t, 100, rep.Scores[1].Score)
	assert.Empty(t, rep.Scores[1].Issues)

	assert.Equal(t, 56.0, rep.AvgScore)
	assert.Equal(t, 28.5, rep.AvgPrice)
	assert.Equal(t, 1, rep.Issues["few_tags"])
	require.NotEmpty(t, rep.Recommendations)
	assert.Equal(t, "high", rep.Recommendations[0].Priority)
}

func TestSEO_RequiresListingsFile(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Analyze(context.Background(), domain.AnalysisInput{
		Dashboard: domain.DashboardSEO, Files: listings("Name,Cost\nx,1\n"),
	})
	var df *domain.ErrDataFormat
	require.True(t, errors.As(err, &df))
	assert.Equal(t, []string{ColTitle, ColPrice}, df.Missing)
}
