package validation

import (
	"regexp"
	"testing"

	"github.com/maltedev/nursery-importer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validProduct() *models.ScrapedProduct {
	return &models.ScrapedProduct{
		ID:        "123",
		Name:      "Acer palmatum 'Bloodgood'",
		SourceURL: "https://nursery.example.com/product/acer-palmatum-bloodgood",
	}
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "Lilly Pilly", "lilly-pilly"},
		{"quotes and cultivar", "Acer palmatum 'Bloodgood'", "acer-palmatum-bloodgood"},
		{"collapses separators", "  Grevillea -- __ Robyn Gordon  ", "grevillea-robyn-gordon"},
		{"folds accents", "Rosé Crème Brûlée", "rose-creme-brulee"},
		{"strips punctuation", "Hebe (20cm) & Co.!", "hebe-20cm-co"},
		{"trims hyphens", "-Westringia-", "westringia"},
		{"only symbols", "!!!", ""},
		{"digits kept", "Pot 140mm", "pot-140mm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GenerateSlug(tt.input))
		})
	}
}

func TestGenerateSlugAlphabet(t *testing.T) {
	allowed := regexp.MustCompile(`^[a-z0-9-]*$`)
	inputs := []string{
		"Ficus lyrata 'Bambino' – 200mm",
		"日本の植物 Japanese maple",
		"Ω Big__Leaf\tPlant\n",
		"---",
		"Ä Ö Ü ß ø",
		"a",
	}

	for _, in := range inputs {
		slug := GenerateSlug(in)
		assert.Regexp(t, allowed, slug, "input %q", in)
		assert.NotRegexp(t, `^-|-$`, slug, "input %q", in)
		assert.Equal(t, slug, GenerateSlug(in), "deterministic for %q", in)
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid product", func(t *testing.T) {
		p := validProduct()
		res := Validate(p)
		require.True(t, res.Valid)
		assert.Same(t, p, res.Product)
		assert.Empty(t, res.Errors)
		assert.NoError(t, res.Err())
	})

	tests := []struct {
		name   string
		mutate func(p *models.ScrapedProduct)
		want   string
	}{
		{"missing id", func(p *models.ScrapedProduct) { p.ID = "  " }, "id is required"},
		{"missing name", func(p *models.ScrapedProduct) { p.Name = "" }, "name is required"},
		{"relative source url", func(p *models.ScrapedProduct) { p.SourceURL = "/product/x" }, "sourceUrl"},
		{"ftp source url", func(p *models.ScrapedProduct) { p.SourceURL = "ftp://x.example.com/a" }, "sourceUrl"},
		{"bad availability", func(p *models.ScrapedProduct) { p.Availability = "MAYBE" }, "availability"},
		{"bad image", func(p *models.ScrapedProduct) { p.ImageURL = "not a url" }, "imageUrl"},
		{"bad gallery image", func(p *models.ScrapedProduct) { p.Images = []string{"https://cdn.example.com/a.jpg", "javascript:alert(1)"} }, "images[1]"},
		{"bad variant availability", func(p *models.ScrapedProduct) {
			p.Variants = []models.Variant{{CombinationID: "1", Availability: "SOON"}}
		}, "variants[0].availability"},
		{"negative price", func(p *models.ScrapedProduct) { p.Price = models.Float64(-1) }, "price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProduct()
			tt.mutate(p)

			res := Validate(p)
			assert.False(t, res.Valid)
			assert.Nil(t, res.Product)
			require.NotEmpty(t, res.Errors)
			assert.Contains(t, res.Err().Error(), tt.want)

			var verr *Error
			assert.ErrorAs(t, res.Err(), &verr)
		})
	}

	t.Run("local image paths are accepted", func(t *testing.T) {
		p := validProduct()
		p.ImageURL = "/images/product/acer-1a2b3c4d.jpg"
		assert.True(t, Validate(p).Valid)
	})

	t.Run("nil product", func(t *testing.T) {
		assert.False(t, Validate(nil).Valid)
	})
}

func TestNormalize(t *testing.T) {
	raw := &models.ScrapedProduct{
		ID:           " 123 ",
		Name:         "  Lomandra 'Tanika'  ",
		Description:  "\n Tough grass \n",
		Availability: " IN_STOCK ",
		SourceURL:    " https://nursery.example.com/product/lomandra-tanika ",
		Images:       []string{" https://cdn.example.com/a.jpg", "", "https://cdn.example.com/a.jpg ", "https://cdn.example.com/b.jpg"},
		Variants: []models.Variant{
			{CombinationID: " 9 ", Label: " 140mm ", Price: models.Float64(6.5)},
		},
		Specifications: map[string]models.SpecValue{
			" height ": {" 0.6m "},
			"soil":     {"Loam ", " ", "Clay"},
			"empty":    {" "},
		},
	}

	p := Normalize(raw)

	assert.Equal(t, "123", p.ID)
	assert.Equal(t, "Lomandra 'Tanika'", p.Name)
	assert.Equal(t, "lomandra-tanika", p.Slug)
	assert.Equal(t, "Tough grass", p.Description)
	assert.Equal(t, models.AvailabilityInStock, p.Availability)
	assert.Equal(t, "https://nursery.example.com/product/lomandra-tanika", p.SourceURL)
	assert.Equal(t, []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg"}, p.Images)
	assert.Equal(t, "9", p.Variants[0].CombinationID)
	assert.Equal(t, "140mm", p.Variants[0].Label)
	assert.Equal(t, models.SpecValue{"0.6m"}, p.Specifications["height"])
	assert.Equal(t, models.SpecValue{"Loam", "Clay"}, p.Specifications["soil"])
	assert.NotContains(t, p.Specifications, "empty")

	// input untouched
	assert.Equal(t, " 123 ", raw.ID)
	assert.Empty(t, raw.Slug)
}

func TestNormalizeKeepsExplicitSlug(t *testing.T) {
	p := validProduct()
	p.Slug = " custom-slug "
	assert.Equal(t, "custom-slug", Normalize(p).Slug)
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []*models.ScrapedProduct{
		validProduct(),
		{
			ID:            "77",
			Name:          " Ficus 'Flash' ",
			BotanicalName: " Ficus microcarpa ",
			Price:         models.Float64(12.5),
			SourceURL:     "https://nursery.example.com/product/ficus-flash",
			Images:        []string{"a", " a", "b "},
			Variants: []models.Variant{
				{CombinationID: "1", Label: "200mm ", Availability: models.AvailabilityInStock, Stock: models.Int(4)},
				{CombinationID: "2", Label: " 300mm", Availability: models.AvailabilityOutOfStock},
			},
			Specifications: map[string]models.SpecValue{"position": {"Sun", " Part shade "}},
		},
		{ID: "1", Name: "!!!", SourceURL: "https://x.example.com/p"},
	}

	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		assert.Equal(t, once, twice)
	}
}
