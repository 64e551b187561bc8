package registry

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/agenda-podcast/Platform-sub001/pkg/tabular"
)

// Catalog rule types in module_contract_rules.csv.
const (
	rulePort        = "port"
	ruleDeliverable = "deliverable"
	ruleRequirement = "requirement"
	ruleDependsOn   = "depends_on"
	ruleSelfTest    = "self_test"
	ruleForward     = "forward"
)

// LoadCatalog compiles the maintenance-state catalog (modules_index.csv +
// module_contract_rules.csv) into a Registry. Module versions must be valid
// semver; a module whose version cannot be parsed is rejected rather than
// executed against an unverifiable contract.
func LoadCatalog(dir string) (*Registry, error) {
	index, err := tabular.Read(filepath.Join(dir, "modules_index.csv"))
	if err != nil {
		return nil, err
	}
	rules, err := tabular.Read(filepath.Join(dir, "module_contract_rules.csv"))
	if err != nil {
		return nil, err
	}

	byModule := make(map[string]*Contract, len(index))
	order := make([]string, 0, len(index))
	for _, row := range index {
		id := strings.TrimSpace(row["module_id"])
		if id == "" {
			return nil, fmt.Errorf("%w: modules_index row without module_id", ErrBadContract)
		}
		if _, err := semver.NewVersion(row["version"]); err != nil {
			return nil, fmt.Errorf("%w: module %s version %q: %v", ErrBadContract, id, row["version"], err)
		}
		byModule[id] = &Contract{
			ModuleID:                      id,
			Version:                       row["version"],
			Kind:                          Kind(strings.ToLower(row["kind"])),
			Deliverables:                  map[string]Deliverable{},
			SupportsDownloadableArtifacts: strings.EqualFold(row["supports_downloadable_artifacts"], "true"),
		}
		order = append(order, id)
	}

	for i, row := range rules {
		id := strings.TrimSpace(row["module_id"])
		c, ok := byModule[id]
		if !ok {
			return nil, fmt.Errorf("%w: contract rule %d references unknown module %q", ErrBadContract, i+1, id)
		}
		if err := applyRule(c, row); err != nil {
			return nil, fmt.Errorf("%w: module %s rule %d: %v", ErrBadContract, id, i+1, err)
		}
	}

	contracts := make([]Contract, 0, len(order))
	for _, id := range order {
		contracts = append(contracts, *byModule[id])
	}
	return New(contracts)
}

func applyRule(c *Contract, row map[string]string) error {
	field := strings.TrimSpace(row["field"])
	switch strings.ToLower(row["rule_type"]) {
	case rulePort:
		return applyPortRule(c, field, row["direction"], row["visibility"])
	case ruleDeliverable:
		d := Deliverable{ID: field}
		if v := strings.TrimSpace(row["value"]); v != "" {
			if err := json.Unmarshal([]byte(v), &d.LimitedInputs); err != nil {
				return fmt.Errorf("deliverable %s limited_inputs: %w", field, err)
			}
		}
		c.Deliverables[field] = d
	case ruleRequirement:
		switch strings.ToLower(row["direction"]) {
		case "secret":
			c.Requirements.Secrets = append(c.Requirements.Secrets, field)
		case "var":
			c.Requirements.Vars = append(c.Requirements.Vars, field)
		default:
			return fmt.Errorf("requirement direction %q", row["direction"])
		}
	case ruleDependsOn:
		c.DependsOn = append(c.DependsOn, field)
	case ruleSelfTest:
		c.SelfTest = field
	case ruleForward:
		c.Ports.ForwardedOutputs = append(c.Ports.ForwardedOutputs, field)
	default:
		return fmt.Errorf("rule_type %q", row["rule_type"])
	}
	return nil
}

func applyPortRule(c *Contract, field, direction, visibility string) error {
	var set *PortSet
	switch strings.ToLower(visibility) {
	case "tenant":
		set = &c.Ports.TenantVisible
	case "platform":
		set = &c.Ports.PlatformOnly
	default:
		return fmt.Errorf("port visibility %q", visibility)
	}
	switch strings.ToLower(direction) {
	case "input":
		set.Inputs = append(set.Inputs, field)
	case "output":
		set.Outputs = append(set.Outputs, field)
	default:
		return fmt.Errorf("port direction %q", direction)
	}
	return nil
}
