package config

// Config is the top-level YAML structure.
type Config struct {
	Version string     `yaml:"version"`
	Server  ServerConf `yaml:"server"`
	Log     LogConf    `yaml:"log"`
	Targets []Target   `yaml:"targets"`
	Rules   []RuleDef  `yaml:"rules"`
}

// ServerConf configures the HTTP API.
type ServerConf struct {
	Addr string `yaml:"addr"`
}

// LogConf selects the slog handler.
type LogConf struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Target is one load balancer stats endpoint polled by its own engine.
type Target struct {
	Name         string      `yaml:"name"`
	URL          string      `yaml:"url"`
	Username     string      `yaml:"username"`
	Password     string      `yaml:"password"`
	PasswordEnv  string      `yaml:"password_env"` // overrides Password when set
	IntervalMs   int         `yaml:"interval_ms"`
	TimeoutMs    int         `yaml:"timeout_ms"`
	DefaultRules *bool       `yaml:"default_rules"` // nil = true
	Restart      RestartConf `yaml:"restart"`
}

// UseDefaultRules reports whether the built-in rule set is added.
func (t Target) UseDefaultRules() bool {
	return t.DefaultRules == nil || *t.DefaultRules
}

// RestartConf names the row and counter watched for restarts.
type RestartConf struct {
	Aggregate string `yaml:"aggregate"` // empty disables detection
	Member    string `yaml:"member"`
	Counter   string `yaml:"counter"`
}

// RuleDef is a rule applied to every record of every target.
type RuleDef struct {
	ID       string         `yaml:"id"`
	Criteria []CriterionDef `yaml:"criteria"`
	Event    string         `yaml:"event"`
	Handler  *HandlerDef    `yaml:"handler,omitempty"`
}

// CriterionDef is a discriminated union on the right-hand side: exactly one
// of Value, Values, Provider or Formula is set.
type CriterionDef struct {
	Header   string        `yaml:"header"`
	Op       string        `yaml:"op"`
	Value    interface{}   `yaml:"value,omitempty"`
	Values   []interface{} `yaml:"values,omitempty"`
	Provider string        `yaml:"provider,omitempty"`
	Formula  string        `yaml:"formula,omitempty"`
}

// HandlerDef binds a rule to a registered action handler.
type HandlerDef struct {
	Type   string                 `yaml:"type"`
	Params map[string]interface{} `yaml:"params"`
}
