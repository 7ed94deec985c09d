package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"crmkit/domain/entity"
	"crmkit/errors"
)

// riskFile 风险策略文件格式：
//
//	policies:
//	  service_orders:
//	    critical: [category, budget]
//	    high: [status, urgent]
//	    threshold: 3
type riskFile struct {
	Policies map[string]entity.RiskPolicy `yaml:"policies"`
}

// LoadRiskPolicies 读取 YAML 风险策略；path 为空时返回 nil（使用内置策略）
func LoadRiskPolicies(path string) (map[entity.Name]entity.RiskPolicy, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "read risk policy file").
			WithContext("path", path)
	}
	return ParseRiskPolicies(data)
}

// ParseRiskPolicies 解析 YAML 风险策略
func ParseRiskPolicies(data []byte) (map[entity.Name]entity.RiskPolicy, error) {
	var f riskFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "parse risk policy file")
	}
	out := make(map[entity.Name]entity.RiskPolicy, len(f.Policies))
	for name, p := range f.Policies {
		if p.Threshold < 0 {
			return nil, errors.NewFieldError(errors.KindMalformed, name+".threshold", "threshold must not be negative")
		}
		out[entity.Name(name)] = p
	}
	return out, nil
}

// Registry 在内置注册表上应用风险策略文件
func (c *Config) Registry() (*entity.Registry, error) {
	reg := entity.Default()
	policies, err := LoadRiskPolicies(c.RiskPolicyFile)
	if err != nil || len(policies) == 0 {
		return reg, err
	}
	return reg.WithRiskPolicies(policies)
}
