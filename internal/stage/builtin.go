package stage

import "github.com/clickstream/etl/internal/pipeline"

// RegisterBuiltins registers the built-in stages.
func RegisterBuiltins(reg *pipeline.Registry) error {
	for name, f := range map[string]pipeline.Factory{
		TransformerName:  NewTransformer,
		UAEnrichmentName: NewUAEnrichment,
		IPEnrichmentName: NewIPEnrichment,
	} {
		if err := reg.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in stages.
func NewRegistry() *pipeline.Registry {
	reg := pipeline.NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		panic(err)
	}
	return reg
}
