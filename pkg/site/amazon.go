package site

import (
	l "github.com/jmylchreest/cartpilot/pkg/locator"
)

const resultEntryCSS = `div[data-component-type="s-search-result"]`

// Amazon returns the built-in profile for amazon.com search results.
func Amazon() *Profile {
	return &Profile{
		Name:       "amazon",
		BaseURL:    "https://www.amazon.com",
		SearchPath: "/s?k=",

		SearchBox: l.NewSpec("search-box",
			l.ByCSS("#twotabsearchtextbox"),
			l.ByCSS(`input[name="field-keywords"]`),
			l.ByXPath(`//form[@role="search"]//input[@type="text"]`),
		),
		ResultEntry: l.NewSpec("result-entry",
			l.ByCSS(resultEntryCSS),
			l.ByXPath(`//div[contains(@class,"s-result-item") and string-length(@data-asin) > 0]`),
		),
		NextPage: l.NewSpec("next-page",
			l.ByCSS(`a.s-pagination-next:not(.s-pagination-disabled):not([aria-disabled="true"])`),
			l.ByXPath(`//a[contains(@class,"s-pagination-next") and not(@aria-disabled="true")]`),
			l.ByCSS(`ul.a-pagination li.a-last:not(.a-disabled) a`),
		),

		Title: Field{Spec: l.NewSpec("title",
			l.ByCSS("h2 a span").Within(),
			l.ByCSS("h2 span").Within(),
			l.ByXPath(`.//h2`).Within(),
		)},
		Price: Field{Spec: l.NewSpec("price",
			l.ByCSS(".a-price .a-offscreen").Within(),
			l.ByXPath(`.//span[contains(@class,"a-price")]/span[contains(@class,"a-offscreen")]`).Within(),
			l.ByCSS("span.a-color-price").Within(),
		)},
		Rating: Field{Spec: l.NewSpec("rating",
			l.ByCSS(".a-icon-star-small .a-icon-alt").Within(),
			l.ByCSS(`i[class*="a-icon-star"] .a-icon-alt`).Within(),
			l.ByXPath(`.//span[contains(@aria-label,"out of 5 stars")]`).Within(),
		)},
		Reviews: Field{Spec: l.NewSpec("reviews",
			l.ByCSS(`a[href*="customerReviews"] span`).Within(),
			l.ByCSS("span.s-underline-text").Within(),
			l.ByXPath(`.//span[contains(@aria-label,"ratings")]`).Within(),
		)},
		ASIN: Field{
			Spec: l.NewSpec("asin",
				l.ByXPath(`self::*[string-length(@data-asin) > 0]`).Within(),
				l.ByXPath(`.//*[string-length(@data-asin) > 0]`).Within(),
			),
			Attr: "data-asin",
		},
		Rank: Field{
			Spec: l.NewSpec("rank",
				l.ByCSS(".a-badge-text").Within(),
				l.ByXPath(`.//span[contains(@class,"badge")]`).Within(),
			),
			Pattern: `#\s?(\d+)`,
		},
		Link: Field{
			Spec: l.NewSpec("link",
				l.ByCSS("h2 a").Within(),
				l.ByCSS("a.s-no-outline").Within(),
				l.ByXPath(`.//a[contains(@href,"/dp/")]`).Within(),
			),
			Attr: "href",
		},

		SponsorLabel: l.NewSpec("sponsor-label",
			l.ByCSS(".s-label-popover-default").Within(),
			l.ByCSS(".puis-sponsored-label-text").Within(),
			l.ByXPath(`.//span[normalize-space(text())="Sponsored"]`).Within(),
		),
		SponsoredMarkers:  []string{"sponsored", "AdHolder"},
		SponsoredKeywords: []string{"sponsored", "advertisement"},

		LabelledSponsored: l.NewSpec("labelled-sponsored",
			l.ByXPath(`//div[@data-component-type="s-search-result"][.//span[normalize-space(text())="Sponsored"]]`),
			l.ByXPath(`//div[string-length(@data-asin) > 0][.//*[contains(@class,"s-label-popover")]//*[normalize-space(text())="Sponsored"]]`),
		),
		TypedSponsored: l.NewSpec("typed-sponsored",
			l.ByCSS(`div[data-component-type="s-sponsored"]`),
			l.ByCSS(`div[data-component-type="sponsored-products"]`),
			l.ByXPath(`//div[@data-component-type="s-search-result"][.//*[contains(@class,"s-label-popover-default")]]`),
			l.ByCSS(`div.AdHolder`+resultEntryCSS),
		),
		EntryByID: l.NewSpec("entry-by-id",
			l.ByCSS(resultEntryCSS+`[data-asin="{id}"]`),
			l.ByCSS(`[data-asin="{id}"]`),
			l.ByXPath(`//*[@data-asin="{id}"]`),
		),
		AddToCart: l.NewSpec("add-to-cart",
			l.ByXPath(`.//input[@value="Add to Cart"]`).Within(),
			l.ByXPath(`.//input[@title="Add to Shopping Cart"]`).Within(),
			l.ByXPath(`.//button[@aria-label="Add to Cart" or normalize-space(.)="Add to Cart"]`).Within(),
			l.ByCSS(`button[name="submit.addToCart"]`).Within(),
		),

		Confirmation: Confirmation{
			Counter: "#nav-cart-count",
			Messages: []string{
				".a-size-medium-plus.a-color-base.sw-atc-text",
				".a-size-medium.a-color-base.sw-atc-text",
				".a-alert-container .a-alert-content",
			},
		},
	}
}
