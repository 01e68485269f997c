package proxy

import (
	"sort"

	"github.com/bloxs/odata-agent-proxy/internal/catalog"
)

// entityMetadata is one entry of the $metadata-summary document's
// per-entity table — spec.md §6.
type entityMetadata struct {
	Description    string   `json:"description"`
	SortableFields []string `json:"sortableFields"`
	FilterExamples []string `json:"filterExamples"`
	JoinInfo       string   `json:"joinInfo"`
	Note           string   `json:"note,omitempty"`
	KeyFields      []string `json:"keyFields"`
}

// metadataSummary is the full $metadata-summary document.
type metadataSummary struct {
	Entities            map[string]entityMetadata `json:"entities"`
	CommonJoins         []string                  `json:"commonJoins"`
	EntityLinkTypes     map[string]string         `json:"entityLinkTypes"`
	QueryParameters     map[string]string         `json:"queryParameters"`
	AgentRules          []string                  `json:"agentRules"`
	BusinessInsights    []string                  `json:"businessInsights"`
	CrossEntityInsights []string                  `json:"crossEntityInsights"`
	OwnerWorkflows      []string                  `json:"ownerWorkflows"`
	CommonFilterIssues  []string                  `json:"commonFilterIssues"`
}

// entityNotes and entityDescriptions carry the hand-authored prose the
// generic EntityDescriptor has no room for. Keyed by canonical entity name.
var entityDescriptions = map[string]string{
	"Units":              "Rentable or sellable physical spaces within a building.",
	"FinancialMutations": "Ledger postings — rent, service charges, corrections — against a contract.",
	"Tenants":            "Parties renting one or more units under a contract.",
	"Owners":             "Parties holding ownership of one or more units or buildings.",
	"Contracts":          "Lease or service agreements linking a tenant to one or more units.",
	"Meters":             "Utility meters installed in a unit.",
	"Buildings":          "Top-level property grouping one or more units.",
}

var entityFilterExamples = map[string][]string{
	"Units":              {"$filter=BuildingId eq 42"},
	"FinancialMutations": {"$filter=FinancialYear eq 2025"},
	"Tenants":            {"$filter=DisplayName eq 'Acme BV'"},
	"Owners":             {"$filter=Reference eq 'OWN-1'"},
	"Contracts":          {"$filter=StartDate ge 2025-01-01"},
	"Meters":             {"$filter=UnitId eq 101"},
	"Buildings":          {"$filter=DisplayName eq 'Keizersgracht 1'"},
}

var entityJoinInfo = map[string]string{
	"Units":              "Join to Buildings via BuildingId.",
	"FinancialMutations": "Join to Contracts via ContractId (not sortable, available for $filter).",
	"Tenants":            "Join to Contracts via TenantId.",
	"Owners":             "Join to Units or Buildings via the ownership association.",
	"Contracts":          "Join to Tenants via TenantId, to Units via the contract-unit association.",
	"Meters":             "Join to Units via UnitId.",
	"Buildings":          "Join to Units via the reverse of Units.BuildingId.",
}

var entityNotes = map[string]string{
	"FinancialMutations": "A $filter is mandatory on this entity; unfiltered queries are rejected before any upstream call.",
}

// buildMetadataSummary assembles the $metadata-summary introspection
// document from the catalog's static data plus the hand-authored notes
// above. Field values beyond the per-entity table are advisory prose; the
// shape is spec.md §6, the wording is not wire-critical.
func buildMetadataSummary(cat *catalog.Catalog) metadataSummary {
	names := cat.Entities()
	sort.Strings(names)

	entities := make(map[string]entityMetadata, len(names))
	for _, name := range names {
		d, _ := cat.Descriptor(name)
		entities[name] = entityMetadata{
			Description:    entityDescriptions[name],
			SortableFields: d.SortableFields,
			FilterExamples: entityFilterExamples[name],
			JoinInfo:       entityJoinInfo[name],
			Note:           entityNotes[name],
			KeyFields:      keyFieldsFor(d),
		}
	}

	return metadataSummary{
		Entities: entities,
		CommonJoins: []string{
			"Units.BuildingId -> Buildings.BuildingId",
			"Contracts.TenantId -> Tenants.TenantId",
			"Meters.UnitId -> Units.UnitId",
		},
		EntityLinkTypes: map[string]string{
			"Units->Buildings":              "many-to-one",
			"Contracts->Tenants":            "many-to-one",
			"Meters->Units":                 "many-to-one",
			"FinancialMutations->Contracts": "many-to-one",
		},
		QueryParameters: map[string]string{
			"$filter":  "OData boolean expression, required on entities marked requiresFilter",
			"$top":     "maximum row count, capped per entity",
			"$orderby": "comma-separated '<field> [asc|desc]', field must be sortable for the entity",
		},
		AgentRules: []string{
			"Always check $metadata-summary before guessing a field name.",
			"FinancialMutations requires a $filter; query by FinancialYear or a contract reference first.",
			"Treat $top caps as hard limits; the proxy silently lowers an oversized value rather than erroring.",
		},
		BusinessInsights: []string{
			"FinancialMutations volume concentrates around quarter-end booking runs.",
		},
		CrossEntityInsights: []string{
			"A tenant's total exposure requires joining Contracts to FinancialMutations by ContractId.",
		},
		OwnerWorkflows: []string{
			"Owner statements are derived by joining Owners to Units to FinancialMutations.",
		},
		CommonFilterIssues: []string{
			"Field names are case-sensitive upstream even though the proxy matches them case-insensitively for $orderby.",
			"Quoting string literals with double quotes instead of single quotes is rejected by the upstream.",
		},
	}
}

// keyFieldsFor returns the subset of d's sortable fields that look like
// identifiers: ending in "Id" or equal to "Reference".
func keyFieldsFor(d catalog.EntityDescriptor) []string {
	var keys []string
	for _, f := range d.SortableFields {
		if f == "Reference" || (len(f) > 2 && f[len(f)-2:] == "Id") {
			keys = append(keys, f)
		}
	}
	return keys
}
