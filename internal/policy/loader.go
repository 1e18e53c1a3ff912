package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"
)

// LoadError reports a problem loading or decoding a policy document,
// mirroring the {Code, Message} shape of the teacher's internal/cli.LoadError.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

const (
	ErrCodeNotFound  = "P100"
	ErrCodeReadFail  = "P101"
	ErrCodeDecode    = "P102"
	ErrCodeNoEntries = "P103"
)

// LoadYAML reads a single YAML policy document from path.
func LoadYAML(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("policy file not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeReadFail, Message: err.Error()}
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &LoadError{Code: ErrCodeDecode, Message: fmt.Sprintf("decoding %s: %v", path, err)}
	}
	if len(doc.Actions) == 0 {
		return nil, &LoadError{Code: ErrCodeNoEntries, Message: fmt.Sprintf("%s declares no action policies", path)}
	}
	return &doc, nil
}

// LoadCUE compiles a directory of CUE policy files into a Document, the
// same cuecontext.New + load.Instances + cue.Value.Decode sequence the
// teacher's internal/cli.LoadSpecs uses to compile concept/sync specs.
func LoadCUE(dir string) (*Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("policy directory not found: %s", dir)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, &LoadError{Code: ErrCodeReadFail, Message: err.Error()}
	}
	if len(matches) == 0 {
		return nil, &LoadError{Code: ErrCodeNoEntries, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 || instances[0].Err != nil {
		msg := "no CUE instances loaded"
		if len(instances) > 0 {
			msg = instances[0].Err.Error()
		}
		return nil, &LoadError{Code: ErrCodeDecode, Message: msg}
	}

	value := ctx.BuildInstance(instances[0])
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeDecode, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	var doc Document
	if err := decodeCUEDocument(value, &doc); err != nil {
		return nil, &LoadError{Code: ErrCodeDecode, Message: err.Error()}
	}
	if len(doc.Actions) == 0 {
		return nil, &LoadError{Code: ErrCodeNoEntries, Message: fmt.Sprintf("%s declares no action policies", dir)}
	}
	return &doc, nil
}

// decodeCUEDocument decodes the CUE value's top-level "actions" field into
// doc, field by field, since cue.Value.Decode requires concrete Go structs
// matching the CUE schema's field layout exactly.
func decodeCUEDocument(v cue.Value, doc *Document) error {
	actionsField := v.LookupPath(cue.ParsePath("actions"))
	if !actionsField.Exists() {
		return fmt.Errorf("policy document has no top-level \"actions\" field")
	}
	doc.Actions = map[string]ActionPolicy{}
	iter, err := actionsField.Fields()
	if err != nil {
		return err
	}
	for iter.Next() {
		name := iter.Selector().String()
		var ap cueActionPolicy
		if err := iter.Value().Decode(&ap); err != nil {
			return fmt.Errorf("decoding policy for %s: %w", name, err)
		}
		doc.Actions[name] = ap.toActionPolicy()
	}
	return nil
}

// cueActionPolicy is CUE's decode target: CUE's Go binding decodes duration
// fields as plain strings (CUE has no native duration type), so this sits
// between the wire schema and the policy.Duration-bearing ActionPolicy.
type cueActionPolicy struct {
	NonReentrant bool   `json:"nonReentrant"`
	Debounce     string `json:"debounce"`
	Throttle     string `json:"throttle"`
	Retry        *struct {
		InitialDelay string  `json:"initialDelay"`
		Multiplier   float64 `json:"multiplier"`
		MaxRetries   int     `json:"maxRetries"`
		Unlimited    bool    `json:"unlimited"`
	} `json:"retry"`
}

func (c cueActionPolicy) toActionPolicy() ActionPolicy {
	ap := ActionPolicy{
		NonReentrant: c.NonReentrant,
		Debounce:     parseDurationLenient(c.Debounce),
		Throttle:     parseDurationLenient(c.Throttle),
	}
	if c.Retry != nil {
		ap.Retry = &RetrySpec{
			InitialDelay: parseDurationLenient(c.Retry.InitialDelay),
			Multiplier:   c.Retry.Multiplier,
			MaxRetries:   c.Retry.MaxRetries,
			Unlimited:    c.Retry.Unlimited,
		}
	}
	return ap
}

func parseDurationLenient(s string) Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return Duration(d)
}
