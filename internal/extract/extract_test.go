package extract

import (
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/nursery-importer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingURL = "https://nursery.example.com/#/category/hedging?page=1"

const listingHTML = `<!DOCTYPE html>
<html>
<body>
	<nav class="breadcrumb">
		<ol>
			<li><a href="/">Home</a></li>
			<li><a href="/#/plant-finder">Plant Finder</a></li>
			<li>Hedging Plants</li>
		</ol>
	</nav>
	<h1>Hedging</h1>
	<p class="results">Showing 1-24 of 57 products</p>
	<div class="product-list">
		<div class="product-item" data-product-id="123" data-combination-id="1001">
			<a href="/product/123-lilly-pilly"><img data-src="/img/p/123/lilly-pilly_250.jpg" src="data:image/gif;base64,R0lGOD"></a>
			<h3 class="product-name">Lilly Pilly 'Resilience'</h3>
			<span class="variant-label">20cm</span>
			<span class="price">$12.50 ex GST</span>
			<span class="stock">Out of stock</span>
		</div>
		<div class="product-item" data-product-id="123" data-combination-id="1002" data-stock="14">
			<a href="/product/123-lilly-pilly"><img data-src="/img/p/123/lilly-pilly_250.jpg"></a>
			<h3 class="product-name">Lilly Pilly 'Resilience'</h3>
			<span class="variant-label">40cm</span>
			<span class="price">$24.20 inc GST</span>
			<span class="stock">In stock</span>
		</div>
		<div class="product-item" data-product-id="456">
			<a href="/product/456-westringia"><img src="/img/p/456/westringia.jpg"></a>
			<h3 class="product-name">Westringia 'Grey Box'</h3>
			<span class="price">$8.00</span>
			<span class="stock">In stock</span>
		</div>
	</div>
	<ul class="pagination">
		<li class="disabled"><a class="prev">Prev</a></li>
		<li><a class="next" href="#/category/hedging?page=2">Next</a></li>
	</ul>
</body>
</html>`

const detailURL = "https://nursery.example.com/product/789-acer-palmatum-bloodgood"

const detailHTML = `<!DOCTYPE html>
<html>
<head>
	<title>Japanese Maple 'Bloodgood' | Trade Nursery</title>
	<meta property="og:image" content="/img/og.jpg">
</head>
<body>
	<div itemscope itemtype="http://schema.org/Product" data-product-id="789">
		<h1 itemprop="name">Japanese Maple 'Bloodgood'</h1>
		<p class="botanical-name">Acer palmatum 'Bloodgood'</p>
		<div itemprop="description">Deep burgundy foliage.</div>
		<span itemprop="price" content="45.00">$49.50 inc GST</span>
		<link itemprop="availability" href="http://schema.org/InStock">
		<div class="product-gallery">
			<img src="/img/p/789/maple_1.jpg">
			<img src="/img/p/789/maple_2.jpg">
			<img src="/img/p/789/maple_1.jpg">
		</div>
		<table class="specifications">
			<tr><th>Height:</th><td>4m</td></tr>
			<tr><th>Common Name</th><td>Japanese Maple</td></tr>
			<tr><th>Position</th><td><ul><li>Full sun</li><li>Part shade</li></ul></td></tr>
		</table>
		<p>Care: Water deeply in summer.</p>
	</div>
</body>
</html>`

func mustParse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := Parse(html)
	require.NoError(t, err)
	return doc
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected float64
		ok       bool
	}{
		{"ex GST", "$12.50 ex GST", 12.5, true},
		{"inc GST divided", "$13.75 inc GST", 12.5, true},
		{"inc GST rounded to cents", "24.20 incl. GST", 22, true},
		{"ex GST wins over inc GST", "$11.00 inc GST / $10.00 + ex GST", 10, true},
		{"thousands separator", "$1,234.00", 1234, true},
		{"bare number", " 7.5 ", 7.5, true},
		{"attribute value", "1,200.00", 1200, true},
		{"digits in prose", "Call 1300 555 123 for trade price", 0, false},
		{"number after label", "Price 7.5", 0, false},
		{"no number", "POA", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParsePrice(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.expected, got, 0.0001)
		})
	}
}

func TestParseAvailability(t *testing.T) {
	tests := []struct {
		text     string
		expected models.Availability
	}{
		{"In stock", models.AvailabilityInStock},
		{"http://schema.org/InStock", models.AvailabilityInStock},
		{"Out of stock", models.AvailabilityOutOfStock},
		{"SOLD OUT", models.AvailabilityOutOfStock},
		{"Currently unavailable", models.AvailabilityOutOfStock},
		{"https://schema.org/OutOfStock", models.AvailabilityOutOfStock},
		{"https://schema.org/SoldOut", models.AvailabilityOutOfStock},
		{"Not available", models.AvailabilityOutOfStock},
		{"Currently not available online", models.AvailabilityOutOfStock},
		{"Available now", models.AvailabilityInStock},
		{"Pre-order now", models.AvailabilityPreOrder},
		{"Coming soon", models.AvailabilityPreOrder},
		{"No longer available", models.AvailabilityDiscontinued},
		{"Discontinued", models.AvailabilityDiscontinued},
		{"Call us", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseAvailability(tt.text))
		})
	}
}

func TestListingProductsMergesVariants(t *testing.T) {
	doc := mustParse(t, listingHTML)

	products := ListingProducts(doc, listingURL)
	require.Len(t, products, 2)

	lilly := products[0]
	assert.Equal(t, "123", lilly.ID)
	assert.Equal(t, "123", lilly.SourceID)
	assert.Equal(t, "Lilly Pilly 'Resilience'", lilly.Name)
	assert.Equal(t, "https://nursery.example.com/product/123-lilly-pilly", lilly.SourceURL)
	assert.Equal(t, "https://nursery.example.com/img/p/123/lilly-pilly_250.jpg", lilly.ImageURL)
	assert.Equal(t, "Hedging Plants", lilly.Category)
	assert.Nil(t, lilly.Price)

	require.Len(t, lilly.Variants, 2)
	assert.Equal(t, "1001", lilly.Variants[0].CombinationID)
	assert.Equal(t, "20cm", lilly.Variants[0].Label)
	require.NotNil(t, lilly.Variants[0].Price)
	assert.InDelta(t, 12.5, *lilly.Variants[0].Price, 0.001)
	assert.Equal(t, models.AvailabilityOutOfStock, lilly.Variants[0].Availability)
	assert.Nil(t, lilly.Variants[0].Stock)

	assert.Equal(t, "1002", lilly.Variants[1].CombinationID)
	assert.Equal(t, "40cm", lilly.Variants[1].Label)
	require.NotNil(t, lilly.Variants[1].Price)
	assert.InDelta(t, 22.0, *lilly.Variants[1].Price, 0.001)
	assert.Equal(t, models.AvailabilityInStock, lilly.Variants[1].Availability)
	require.NotNil(t, lilly.Variants[1].Stock)
	assert.Equal(t, 14, *lilly.Variants[1].Stock)

	westringia := products[1]
	assert.Equal(t, "456", westringia.ID)
	assert.Empty(t, westringia.Variants)
	require.NotNil(t, westringia.Price)
	assert.InDelta(t, 8.0, *westringia.Price, 0.001)
	assert.Equal(t, models.AvailabilityInStock, westringia.Availability)
}

func TestListingProductsWithoutIdentifiers(t *testing.T) {
	doc := mustParse(t, `<div class="product-card"><a href="/product/991-banksia">Banksia</a></div>
		<div class="product-card"><a href="/about">About</a></div>`)

	products := ListingProducts(doc, "https://nursery.example.com/#/category/natives")
	require.Len(t, products, 1)
	assert.Equal(t, "991", products[0].ID)
	assert.Equal(t, "Natives", products[0].Category)
}

func TestCategoryLabel(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		url      string
		expected string
	}{
		{"breadcrumb skips generic crumbs", listingHTML, listingURL, "Hedging Plants"},
		{"only generic crumbs falls back to heading", `<ul class="breadcrumb"><li>Home</li><li>Plant Finder</li></ul><h1>Climbers</h1>`, listingURL, "Climbers"},
		{"hash route segment", `<p>nothing here</p>`, "https://nursery.example.com/#/category/native-grasses?page=2", "Native Grasses"},
		{"path segment", `<p>nothing here</p>`, "https://nursery.example.com/plants/fruit_trees/", "Fruit Trees"},
		{"numeric segments skipped", `<p></p>`, "https://nursery.example.com/#/category/succulents/3", "Succulents"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CategoryLabel(mustParse(t, tt.html), tt.url))
		})
	}
}

func TestTotalResults(t *testing.T) {
	tests := []struct {
		name  string
		html  string
		total int
		ok    bool
	}{
		{"showing range", listingHTML, 57, true},
		{"results found", `<div>1,204 plants found</div>`, 1204, true},
		{"of n results", `<div>Page 2 of 120 results</div>`, 120, true},
		{"none", `<div>Welcome</div>`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, ok := TotalResults(mustParse(t, tt.html))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.total, total)
		})
	}
}

func TestHasNextControl(t *testing.T) {
	assert.True(t, HasNextControl(mustParse(t, listingHTML)))
	assert.True(t, HasNextControl(mustParse(t, `<a rel="next" href="?page=3">»</a>`)))
	assert.False(t, HasNextControl(mustParse(t, `<ul class="pagination"><li class="disabled"><a class="next">Next</a></li></ul>`)))
	assert.False(t, HasNextControl(mustParse(t, `<button class="next" disabled>Next</button>`)))
	assert.False(t, HasNextControl(mustParse(t, `<a aria-label="Next page" aria-disabled="true">Next</a>`)))
	assert.False(t, HasNextControl(mustParse(t, `<p>no pagination</p>`)))
}

func TestHasPriceElements(t *testing.T) {
	assert.True(t, HasPriceElements(mustParse(t, listingHTML)))
	assert.False(t, HasPriceElements(mustParse(t, `<div class="price">Login to see prices</div>`)))
	assert.False(t, HasPriceElements(mustParse(t, `<div class="price">Call 1300 555 123 for trade price</div>`)))
}

func TestDetail(t *testing.T) {
	p := Detail(mustParse(t, detailHTML), detailURL, "Japanese Maple 'Bloodgood' | Trade Nursery")
	require.NotNil(t, p)

	assert.Equal(t, "789", p.ID)
	assert.Equal(t, "789", p.SourceID)
	assert.Equal(t, "Japanese Maple 'Bloodgood'", p.Name)
	assert.Equal(t, "Acer palmatum 'Bloodgood'", p.BotanicalName)
	assert.Equal(t, "Japanese Maple", p.CommonName)
	assert.Equal(t, "Deep burgundy foliage.", p.Description)
	assert.Equal(t, "Water deeply in summer.", p.CareInstructions)
	assert.Equal(t, detailURL, p.SourceURL)
	require.NotNil(t, p.Price)
	assert.InDelta(t, 45.0, *p.Price, 0.001)
	assert.Equal(t, models.AvailabilityInStock, p.Availability)
	assert.Equal(t, []string{
		"https://nursery.example.com/img/p/789/maple_1.jpg",
		"https://nursery.example.com/img/p/789/maple_2.jpg",
	}, p.Images)
	assert.Equal(t, p.Images[0], p.ImageURL)

	assert.Equal(t, models.SpecValue{"4m"}, p.Specifications["Height"])
	assert.Equal(t, models.SpecValue{"Full sun", "Part shade"}, p.Specifications["Position"])
	assert.NotContains(t, p.Specifications, "Common Name")
	assert.Empty(t, p.Category)
}

func TestDetailCategoryFromBreadcrumb(t *testing.T) {
	html := `<ol class="breadcrumb"><li>Home</li><li>Trees</li><li>Japanese Maple</li></ol><h1>Japanese Maple</h1>`
	p := Detail(mustParse(t, html), detailURL, "")
	require.NotNil(t, p)
	assert.Equal(t, "Trees", p.Category)
}

func TestDetailFallbacks(t *testing.T) {
	html := `<html><head><title>Grevillea 'Robyn Gordon' | Trade Nursery</title>
		<meta property="og:image" content="/img/og/grevillea.jpg"></head>
		<body>
			<dl><dt>Botanical Name</dt><dd>Grevillea hybrid</dd><dt>Flower colour</dt><dd>Red</dd></dl>
			<div class="summary">Wholesale $18.70 inc GST</div>
			<p>Status: Sold out</p>
			<select name="group[1]"><option value="11">140mm</option><option value="12" disabled>200mm</option></select>
		</body></html>`

	p := Detail(mustParse(t, html), "https://nursery.example.com/product/321-grevillea", "Grevillea 'Robyn Gordon' | Trade Nursery")
	require.NotNil(t, p)

	assert.Equal(t, "321", p.ID)
	assert.Equal(t, "Grevillea 'Robyn Gordon'", p.Name)
	assert.Equal(t, "Grevillea hybrid", p.BotanicalName)
	require.NotNil(t, p.Price)
	assert.InDelta(t, 17.0, *p.Price, 0.001)
	assert.Equal(t, models.AvailabilityOutOfStock, p.Availability)
	assert.Equal(t, "https://nursery.example.com/img/og/grevillea.jpg", p.ImageURL)
	assert.Equal(t, models.SpecValue{"Red"}, p.Specifications["Flower colour"])

	require.Len(t, p.Variants, 2)
	assert.Equal(t, models.Variant{CombinationID: "11", Label: "140mm"}, p.Variants[0])
	assert.Equal(t, models.AvailabilityOutOfStock, p.Variants[1].Availability)
}

func TestDetailNonProductPage(t *testing.T) {
	html := `<html><head><title>Page Not Found | Trade Nursery</title></head><body><p>Sorry</p></body></html>`
	assert.Nil(t, Detail(mustParse(t, html), "https://nursery.example.com/product/missing", "Page Not Found | Trade Nursery"))

	assert.Nil(t, Detail(mustParse(t, `<html><body></body></html>`), "https://nursery.example.com/x", ""))
}
