package signals

import "signalgraph-mm/internal/signalgraph"

// Definitions returns the full built-in catalog, ready to pass to
// signalgraph.NewGraphRegistrar.
func Definitions() []signalgraph.NamedDefinition {
	return []signalgraph.NamedDefinition{
		{Name: "fair_value", Def: FairValueDefinition()},
		{Name: "ema", Def: EmaDefinition()},
		{Name: "premium", Def: PremiumDefinition()},
		{Name: "aggregator", Def: AggregatorDefinition()},
	}
}
