package docgate_test

import (
	"fmt"
	"testing"

	"github.com/oarkflow/docgate"
	"gopkg.in/yaml.v3"
)

// generateTestConfig builds a config with n extra collections on top of the
// default table.
func generateTestConfig(n int) *docgate.Config {
	b := docgate.NewConfigBuilder().DefaultRules()
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("collection_%d", i)
		b.Rule(name, docgate.NewRuleBuilder().
			Read(docgate.RoleAdmin, docgate.RoleTeacher, docgate.MarkerOwner).
			Write(docgate.RoleAdmin, docgate.MarkerOwner).
			Delete(docgate.RoleAdmin).
			Build())
		if i%10 == 0 {
			b.Relation(name, docgate.MarkerOwner, "doc.ownerId == session.uid")
		}
	}
	return b.Build()
}

func BenchmarkDSLParse(b *testing.B) {
	data, err := docgate.NewDSLEncoder().Encode(generateTestConfig(10))
	if err != nil {
		b.Fatal(err)
	}
	parser := docgate.NewDSLParser()
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = parser.Parse(data)
	}
}

func BenchmarkDSLEncode(b *testing.B) {
	cfg := generateTestConfig(10)
	encoder := docgate.NewDSLEncoder()
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = encoder.Encode(cfg)
	}
}

func BenchmarkYAMLDecode(b *testing.B) {
	data, _ := generateTestConfig(10).ToYAML()
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		var decoded docgate.Config
		_ = yaml.Unmarshal(data, &decoded)
	}
}

func BenchmarkJSONDecode(b *testing.B) {
	data, _ := generateTestConfig(10).ToJSON()
	loader := docgate.NewConfigLoader()
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = loader.LoadJSON(data)
	}
}

func BenchmarkDSLParseLarge(b *testing.B) {
	data, err := docgate.NewDSLEncoder().Encode(generateTestConfig(1000))
	if err != nil {
		b.Fatal(err)
	}
	parser := docgate.NewDSLParser()
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = parser.Parse(data)
	}
}

func TestSizeComparison(t *testing.T) {
	cfg := generateTestConfig(100)

	rules, err := docgate.NewDSLEncoder().Encode(cfg)
	if err != nil {
		t.Fatal(err)
	}
	rules = append([]byte(nil), rules...)
	yamlData, _ := yaml.Marshal(cfg)
	jsonData, _ := cfg.ToJSON()

	t.Logf("Size Comparison (%d rules):", len(cfg.Permissions))
	t.Logf("  Rules: %d bytes (100%%)", len(rules))
	t.Logf("  YAML:  %d bytes (%.0f%%)", len(yamlData), float64(len(yamlData))/float64(len(rules))*100)
	t.Logf("  JSON:  %d bytes (%.0f%%)", len(jsonData), float64(len(jsonData))/float64(len(rules))*100)
	if len(rules) >= len(jsonData) {
		t.Fatalf("expected the rules format to be smaller than JSON")
	}
}
