package datadog

// costByOrgResponse is the Cloud Cost Management v2 response envelope.
type costByOrgResponse struct {
	Data []costByOrgEntry `json:"data"`
}

type costByOrgEntry struct {
	Type       string             `json:"type"`
	ID         string             `json:"id"`
	Attributes costByOrgAttrs     `json:"attributes"`
	Meta       map[string]any     `json:"meta,omitempty"`
	Relations  map[string]any     `json:"relationships,omitempty"`
	Extra      map[string]float64 `json:"-"`
}

type costByOrgAttrs struct {
	OrgName   string   `json:"org_name"`
	AccountID string   `json:"account_id"`
	Region    string   `json:"region,omitempty"`
	Charges   []charge `json:"charges"`
}

type charge struct {
	ChargeType string  `json:"charge_type"`
	Cost       float64 `json:"cost"`
}

// apiErrorResponse is Datadog's error envelope.
type apiErrorResponse struct {
	Errors []string `json:"errors"`
}
