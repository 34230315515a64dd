package challenge

import (
	o "github.com/GriffinCanCode/tracklab/backend/internal/domain/objective"
)

const gaHost = "google-analytics.com"

const saasHTML = `
<div style="padding: 20px; font-family: sans-serif; color: #333;">
    <h1>SaaS Dashboard</h1>
    <button id="subscribe-btn" style="padding: 10px 20px; background: #4f46e5; color: white; border: none; border-radius: 5px; cursor: pointer;">
        Subscribe Now
    </button>
    <script>
        document.getElementById('subscribe-btn').addEventListener('click', () => {
            console.log('Subscribe clicked');
            window.dataLayer = window.dataLayer || [];
            window.dataLayer.push({
                event: 'subscribe',
                plan: 'pro'
            });
        });
    </script>
</div>
`

// Builtin returns the stock catalog. Each call returns fresh values.
func Builtin() []*Challenge {
	return []*Challenge{
		{
			ID:          "global-travel",
			Title:       "Global Travel Booker",
			Description: "Set up basic page view and button click tracking across the steps of a booking flow.",
			Difficulty:  Easy,
			Category:    "Analytics",
			Type:        TypeTemplate,
			Content:     Content{TemplateID: "travel-v1", Config: map[string]any{}},
			Objectives: []o.Objective{
				{
					ID:    "page_view",
					Label: "Track a page view",
					Rule:  o.Any(o.Or(o.Contains("url", "page_view"), o.Contains("body", "page_view"))),
				},
			},
		},
		{
			ID:          "cyberpunk-store",
			Title:       "Cyberpunk Gadget Store",
			Description: "Implement advanced e-commerce tracking in a dynamic single page application.",
			Difficulty:  Medium,
			Category:    "E-commerce",
			Type:        TypeTemplate,
			Content:     Content{TemplateID: "ecommerce-v1", Config: map[string]any{"theme": "cyberpunk"}},
			Objectives: []o.Objective{
				{
					ID:    "page_view",
					Label: "Track virtual page views (SPA)",
					Rule: o.CountAtLeast(2, o.Or(
						o.And(
							o.Contains("url", gaHost),
							o.Or(o.QueryEq("en", "page_view"), o.QueryEq("ep.event_name", "page_view")),
						),
						o.And(
							o.Not(o.Contains("url", gaHost)),
							o.Eq("body.event", "page_view"),
						),
					)),
				},
				{
					ID:    "add_to_cart",
					Label: "Track 'Add to Cart' events",
					Rule:  o.Any(o.OneOf("body.event", "add_to_cart", "AddToCart")),
				},
				{
					ID:    "product_data",
					Label: "Capture product id and price",
					Rule: o.Any(
						o.Eq("body.event", "add_to_cart"),
						// Both fields come from the same item: ecommerce.items[0] when
						// present, the top-level items[0] otherwise.
						o.Or(
							o.And(o.Exists("body.ecommerce.items.0.item_id"), o.Exists("body.ecommerce.items.0.price")),
							o.And(o.Not(o.Exists("body.ecommerce.items.0")), o.Exists("body.items.0.item_id"), o.Exists("body.items.0.price")),
						),
					),
				},
			},
		},
		{
			ID:          "saas-platform",
			Title:       "Data Analytics Platform",
			Description: "Track user engagement and subscription flows in a complex B2B SaaS platform.",
			Difficulty:  Hard,
			Category:    "SaaS",
			Type:        TypeCustom,
			Content: Content{
				HTML: saasHTML,
				CSS:  `body { background-color: #f3f4f6; }`,
				JS:   `console.log('Custom Challenge Loaded');`,
			},
			Objectives: []o.Objective{
				{
					ID:    "subscribe_click",
					Label: "Track the subscribe click",
					Rule:  o.Any(o.Eq("body.event", "subscribe")),
				},
			},
		},
	}
}
