package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"claudebridge/gate"
	"claudebridge/paths"
)

// policyFile is the on-disk shape of gate.yaml:
//
//	auto_approve:
//	  default: [Read, Grep]
//	  acceptEdits: [Bash]
type policyFile struct {
	AutoApprove map[string][]string `yaml:"auto_approve"`
}

// LoadGatePolicy reads gate.yaml from the config directory. Returns an empty
// policy if the file does not exist. Unknown keys and unknown mode names are
// errors: a policy that silently widens or narrows approvals is worse than
// one that refuses to load.
func LoadGatePolicy() (gate.Policy, error) {
	path, err := paths.GatePolicyPath()
	if err != nil {
		return gate.Policy{}, err
	}
	return loadPolicyFrom(path)
}

func loadPolicyFrom(path string) (gate.Policy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return gate.Policy{}, nil
	}
	if err != nil {
		return gate.Policy{}, fmt.Errorf("failed to read gate policy: %w", err)
	}

	var pf policyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil && err != io.EOF {
		return gate.Policy{}, fmt.Errorf("failed to parse gate policy: %w", err)
	}

	policy := gate.Policy{AutoApprove: make(map[gate.Mode][]string)}
	for modeName, tools := range pf.AutoApprove {
		mode, err := gate.ParseMode(modeName)
		if err != nil {
			return gate.Policy{}, fmt.Errorf("gate policy: %w", err)
		}
		policy.AutoApprove[mode] = gate.ComposeTools(tools)
	}
	return policy, nil
}
