package config

import (
	"encoding/json"
	"os"
)

// Selectors holds the DOM selector families the browser driver and
// pagination engine probe in priority order: first visible match wins.
// A field may carry one selector or several fallback candidates, so each
// is a string slice even where the default has a single entry — this
// keeps the override JSON's shape uniform (every leaf is a list).
type Selectors struct {
	Payments     PaymentSelectors     `json:"payments"`
	OrderDetails OrderDetailSelectors `json:"order_details"`
	Auth         AuthSelectors        `json:"auth"`
}

// PaymentSelectors locates the #sales-payments report's table, pager, and
// date-range controls.
type PaymentSelectors struct {
	TableRows       []string `json:"table_rows"`
	TableHeaders    []string `json:"table_headers"`
	NextButton      []string `json:"next_button"`
	PerPageSelect   []string `json:"per_page_select"`
	PerPage100Opt   []string `json:"per_page_100_option"`
	DateStartInput  []string `json:"date_start_input"`
	DateEndInput    []string `json:"date_end_input"`
	ApplyButton     []string `json:"apply_button"`
}

// OrderDetailSelectors locates the #sales-order-details report's tab,
// top-items table, order blocks, and their pagers.
type OrderDetailSelectors struct {
	TabLink                  []string `json:"tab_link"`
	TopItemsTable            []string `json:"top_items_table"`
	TopItemsPerPageSelect    []string `json:"top_items_per_page_select"`
	TopItemsPerPage100Opt    []string `json:"top_items_per_page_100_option"`
	TopItemsNextButton       []string `json:"top_items_next_button"`
	ShowHideColumnsButton    []string `json:"show_hide_columns_button"`
	OrderBlocks              []string `json:"order_blocks"`
	OrderNextButton          []string `json:"order_next_button"`
}

// AuthSelectors locates the login form, post-login interstitial prompts,
// and the markers that distinguish an authenticated page from a logged-out
// one.
type AuthSelectors struct {
	LoggedOutMarkers    []string `json:"logged_out_markers"`
	UsernameInputs      []string `json:"username_inputs"`
	PasswordInputs      []string `json:"password_inputs"`
	SubmitButtons       []string `json:"submit_buttons"`
	NotNowButtons       []string `json:"not_now_buttons"`
	AuthenticatedMarkers []string `json:"authenticated_markers"`
}

// DefaultSelectors returns the built-in selector set, ported verbatim from
// the Python original's DEFAULT_SELECTORS.
func DefaultSelectors() *Selectors {
	return &Selectors{
		Payments: PaymentSelectors{
			TableRows:    []string{"#sales-payments table tbody tr"},
			TableHeaders: []string{"#sales-payments table thead th"},
			NextButton: []string{
				"#sales-payments .dataTables_paginate li.next:not(.disabled) a",
				"#sales-payments .dataTables_paginate li.next a",
				"#sales-payments li.next:not(.disabled) a",
				"#sales-payments li.next a",
				"#sales-payments a:has-text('Next →')",
			},
			PerPageSelect: []string{
				"#sales-payments select[name='payments-report_length']",
				"#sales-payments select[name$='_length']",
				"#sales-payments select[aria-label*='per page' i]",
				"#sales-payments select[name*='pageSize' i]",
				"#sales-payments select[name*='perPage' i]",
			},
			PerPage100Opt: []string{
				"#sales-payments .per-page-selector .dropdown-menu a[data-value='100']",
				"#sales-payments .per-page-selector .dropdown-menu a:has-text('100')",
				"#sales-payments a:has-text('100')",
			},
			DateStartInput: []string{
				"#sales-payments input[name='reportDateStart']",
				"#sales-payments #startDate",
				"#sales-payments input[name*='start' i]",
				"#sales-payments input[aria-label*='start' i]",
				"#sales-payments input[placeholder*='Start' i]",
				"input[name='reportDateStart']",
				"#startDate",
				"input[name*='start' i]",
				"input[aria-label*='start' i]",
				"input[placeholder*='Start' i]",
			},
			DateEndInput: []string{
				"#sales-payments input[name='reportDateEnd']",
				"#sales-payments #endDate",
				"#sales-payments input[name*='end' i]",
				"#sales-payments input[aria-label*='end' i]",
				"#sales-payments input[placeholder*='End' i]",
				"input[name='reportDateEnd']",
				"#endDate",
				"input[name*='end' i]",
				"input[aria-label*='end' i]",
				"input[placeholder*='End' i]",
			},
			ApplyButton: []string{
				"#sales-payments #update-btn",
				"#sales-payments #filter-apply-handler",
				"#sales-payments button:has-text('Apply')",
				"#sales-payments button:has-text('Update')",
				"#update-btn",
				"#filter-apply-handler",
				"button:has-text('Apply')",
				"button:has-text('Update')",
			},
		},
		OrderDetails: OrderDetailSelectors{
			TabLink: []string{
				"a[href='#sales-order-details']",
				"li a[data-report='ORDER_SUMMARY_DETAILS']",
				"a:has-text('Order Details')",
			},
			TopItemsTable: []string{
				"#top-items",
				"#sales-order-details #top-items",
			},
			TopItemsPerPageSelect: []string{
				"select[name='top-items_length']",
				"#top-items_wrapper select[name$='_length']",
			},
			TopItemsPerPage100Opt: []string{
				"#top-items_wrapper .per-page-selector .dropdown-menu a[data-value='100']",
				"#top-items_wrapper .per-page-selector .dropdown-menu a:has-text('100')",
				"#top-items_wrapper a:has-text('100')",
			},
			TopItemsNextButton: []string{
				"#top-items_wrapper .dataTables_paginate li.next:not(.disabled) a",
				"#top-items_wrapper .dataTables_paginate li.next a",
				"#top-items_wrapper li.next:not(.disabled) a",
				"#top-items_wrapper li.next a",
				"#top-items_wrapper a:has-text('Next →')",
			},
			ShowHideColumnsButton: []string{
				"#top-items_wrapper .ColVis_MasterButton",
				"#sales-order-details .ColVis_MasterButton",
				"button:has-text('Show / hide columns')",
			},
			OrderBlocks: []string{
				"#sales-order-details .order-border",
				".order-border",
			},
			OrderNextButton: []string{
				"#sales-order-details .pagination li.next:not(.disabled) a",
				"#sales-order-details .pagination li.next a",
				".pagination li.next:not(.disabled) a",
				".pagination li.next a",
				"a:has-text('Next ›')",
				"a:has-text('Next')",
			},
		},
		Auth: AuthSelectors{
			LoggedOutMarkers: []string{
				"input[type='password']",
				"button:has-text('Log in')",
				"button:has-text('Sign in')",
			},
			UsernameInputs: []string{
				"input[type='email']",
				"input[name*='email' i]",
				"input[id*='email' i]",
				"input[autocomplete='username']",
				"input[type='text']",
			},
			PasswordInputs: []string{
				"input[type='password']",
				"input[name*='pass' i]",
				"input[id*='pass' i]",
			},
			SubmitButtons: []string{
				"button[type='submit']",
				"button:has-text('Next')",
				"button:has-text('Continue')",
				"button:has-text('Log in')",
				"button:has-text('Sign in')",
			},
			NotNowButtons: []string{
				"button[name='action'][value='snooze-enrollment']",
				"button[name='action'][value='refuse-add-device']",
				"button:has-text('Remind me later')",
				"button:has-text('Not on this device')",
				"button:has-text('Not now')",
				"button:has-text('No thanks')",
				"button:has-text('Skip')",
				"button:has-text('Not Now')",
			},
			AuthenticatedMarkers: []string{
				"[data-testid*='report' i]",
				"a[href*='reports']",
				"button:has-text('Reports')",
			},
		},
	}
}

// LoadSelectors returns the default selector set deep-merged with the
// override document at path, if it exists. A missing path is not an error
// — it simply yields the defaults, mirroring load_config.
func LoadSelectors(path string) (*Selectors, error) {
	defaults := DefaultSelectors()
	if path == "" {
		return defaults, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults, nil
		}
		return nil, err
	}

	// Round-trip through generic maps so deepMerge can apply Python's
	// deep_merge semantics (per-key recursive merge of dicts, wholesale
	// replacement of non-dict values such as a selector list) before
	// re-decoding into the typed struct.
	defaultsRaw, err := toGenericMap(defaults)
	if err != nil {
		return nil, err
	}
	var overrideRaw map[string]any
	if err := json.Unmarshal(raw, &overrideRaw); err != nil {
		return nil, err
	}

	merged := deepMerge(defaultsRaw, overrideRaw)
	mergedBytes, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var result Selectors
	if err := json.Unmarshal(mergedBytes, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func toGenericMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMerge recursively merges extra over base: nested objects merge
// key-by-key, any other value (including a selector list) is replaced
// wholesale. Mirrors deep_merge exactly.
func deepMerge(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		if extraMap, ok := v.(map[string]any); ok {
			if baseMap, ok := out[k].(map[string]any); ok {
				out[k] = deepMerge(baseMap, extraMap)
				continue
			}
		}
		out[k] = v
	}
	return out
}
