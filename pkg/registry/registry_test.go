package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenda-podcast/Platform-sub001/pkg/tabular"
)

func TestUnknownModule(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	_, err = r.GetContract("ghost")
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestContractPortChecks(t *testing.T) {
	c := Contract{
		ModuleID: "search",
		Kind:     KindAcquisition,
		Ports: Ports{
			TenantVisible:    PortSet{Inputs: []string{"query"}, Outputs: []string{"results"}},
			PlatformOnly:     PortSet{Inputs: []string{"api_tier"}, Outputs: []string{"raw_response"}},
			ForwardedOutputs: []string{"raw_response"},
		},
	}

	assert.True(t, c.HasTenantInput("query"))
	assert.False(t, c.HasTenantInput("api_tier"))
	assert.True(t, c.HasPlatformInput("api_tier"))
	assert.True(t, c.ReadableOutput("results"))
	assert.True(t, c.ReadableOutput("raw_response"), "forwarding allowance")
	assert.False(t, c.ReadableOutput("internal_state"))
}

func TestNewRejectsBadKind(t *testing.T) {
	_, err := New([]Contract{{ModuleID: "x", Kind: "mystery"}})
	assert.ErrorIs(t, err, ErrBadContract)
}

func writeCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, tabular.WriteAtomic(filepath.Join(dir, "modules_index.csv"),
		[]string{"module_id", "path", "kind", "version", "supports_downloadable_artifacts"},
		[]map[string]string{
			{"module_id": "search", "path": "modules/search", "kind": "acquisition", "version": "1.2.0", "supports_downloadable_artifacts": "false"},
			{"module_id": "package_std", "path": "modules/package_std", "kind": "packaging", "version": "0.9.1", "supports_downloadable_artifacts": "true"},
		}))
	require.NoError(t, tabular.WriteAtomic(filepath.Join(dir, "module_contract_rules.csv"),
		[]string{"module_id", "rule_type", "field", "direction", "visibility", "value"},
		[]map[string]string{
			{"module_id": "search", "rule_type": "port", "field": "query", "direction": "input", "visibility": "tenant"},
			{"module_id": "search", "rule_type": "port", "field": "api_tier", "direction": "input", "visibility": "platform"},
			{"module_id": "search", "rule_type": "port", "field": "results", "direction": "output", "visibility": "tenant"},
			{"module_id": "search", "rule_type": "deliverable", "field": "queries", "value": `{"max_queries": 10}`},
			{"module_id": "search", "rule_type": "requirement", "field": "SEARCH_API_KEY", "direction": "secret"},
			{"module_id": "package_std", "rule_type": "depends_on", "field": "search"},
			{"module_id": "package_std", "rule_type": "port", "field": "items", "direction": "input", "visibility": "tenant"},
		}))
	return dir
}

func TestLoadCatalog(t *testing.T) {
	r, err := LoadCatalog(writeCatalog(t))
	require.NoError(t, err)

	c, err := r.GetContract("search")
	require.NoError(t, err)
	assert.Equal(t, KindAcquisition, c.Kind)
	assert.Equal(t, []string{"SEARCH_API_KEY"}, c.Requirements.Secrets)
	require.Contains(t, c.Deliverables, "queries")
	assert.EqualValues(t, 10, c.Deliverables["queries"].LimitedInputs["max_queries"])

	tenantIn, platformIn, tenantOut, err := r.GetPorts("search")
	require.NoError(t, err)
	assert.Equal(t, []string{"query"}, tenantIn)
	assert.Equal(t, []string{"api_tier"}, platformIn)
	assert.Equal(t, []string{"results"}, tenantOut)

	pkg, err := r.GetContract("package_std")
	require.NoError(t, err)
	assert.Equal(t, []string{"search"}, pkg.DependsOn)
	assert.True(t, pkg.SupportsDownloadableArtifacts)
}

func TestLoadCatalogRejectsBadVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, tabular.WriteAtomic(filepath.Join(dir, "modules_index.csv"),
		[]string{"module_id", "path", "kind", "version", "supports_downloadable_artifacts"},
		[]map[string]string{
			{"module_id": "search", "kind": "acquisition", "version": "not-a-version"},
		}))
	require.NoError(t, tabular.WriteAtomic(filepath.Join(dir, "module_contract_rules.csv"),
		[]string{"module_id", "rule_type", "field", "direction", "visibility", "value"}, nil))

	_, err := LoadCatalog(dir)
	assert.ErrorIs(t, err, ErrBadContract)
}

func TestContractsSortedListing(t *testing.T) {
	r, err := New([]Contract{
		{ModuleID: "zeta", Kind: KindDelivery},
		{ModuleID: "alpha", Kind: KindAcquisition},
	})
	require.NoError(t, err)

	all := r.Contracts()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].ModuleID)
	assert.Equal(t, "zeta", all[1].ModuleID)
}
