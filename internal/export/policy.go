package export

import "time"

// StepPolicy bounds how a single step is attempted.
type StepPolicy struct {
	MaxAttempts        int           `json:"maxAttempts" yaml:"maxAttempts"`
	InitialInterval    time.Duration `json:"initialInterval" yaml:"initialInterval"`
	BackoffCoefficient float64       `json:"backoffCoefficient" yaml:"backoffCoefficient"`
	MaximumInterval    time.Duration `json:"maximumInterval" yaml:"maximumInterval"`
	// Timeout applies to each attempt, not to the step as a whole.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Policies attaches a StepPolicy to every step of a run. The page policy is
// applied to each page independently.
type Policies struct {
	Directory     StepPolicy `json:"directory" yaml:"directory"`
	Page          StepPolicy `json:"page" yaml:"page"`
	Consolidation StepPolicy `json:"consolidation" yaml:"consolidation"`
	Publish       StepPolicy `json:"publish" yaml:"publish"`
}

// DefaultPolicies mirrors the retry budget the export action has always run
// with: three attempts, sixty seconds per search attempt.
func DefaultPolicies() Policies {
	return Policies{
		Directory: StepPolicy{
			MaxAttempts:        3,
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			Timeout:            30 * time.Second,
		},
		Page: StepPolicy{
			MaxAttempts:        3,
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			Timeout:            60 * time.Second,
		},
		Consolidation: StepPolicy{
			MaxAttempts:        3,
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			Timeout:            30 * time.Minute,
		},
		Publish: StepPolicy{
			MaxAttempts:        3,
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			Timeout:            10 * time.Minute,
		},
	}
}

// WithDefaults fills zero fields from def.
func (p StepPolicy) WithDefaults(def StepPolicy) StepPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.BackoffCoefficient < 1 {
		p.BackoffCoefficient = def.BackoffCoefficient
	}
	if p.MaximumInterval <= 0 {
		p.MaximumInterval = def.MaximumInterval
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	return p
}

// Resolve returns p with every unset field taken from DefaultPolicies.
func (p *Policies) Resolve() Policies {
	def := DefaultPolicies()
	if p == nil {
		return def
	}
	return Policies{
		Directory:     p.Directory.WithDefaults(def.Directory),
		Page:          p.Page.WithDefaults(def.Page),
		Consolidation: p.Consolidation.WithDefaults(def.Consolidation),
		Publish:       p.Publish.WithDefaults(def.Publish),
	}
}
