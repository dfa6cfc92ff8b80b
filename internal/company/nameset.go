package company

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/pkg/anthropic"
)

const namesetPrompt = `List the ways employees of this organization are likely to write their
employer name on a professional profile.

Company: %s

Include the official name, common short forms, the parent organization name if one
is given, and location-qualified forms. Order from most to least likely. Return a
valid JSON array of 5-10 strings and nothing else.`

// Builder produces the employer-name variant set for an account.
// The generative pass asks the model for likely self-reported forms; the
// deterministic fallback covers model failures and offline runs.
type Builder struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewBuilder creates a name-set builder. A nil client disables the generative
// pass so every set comes from the deterministic fallback.
func NewBuilder(client anthropic.Client, llmModel string, maxTokens int64) *Builder {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Builder{client: client, model: llmModel, maxTokens: maxTokens}
}

// Generate returns employer-name forms for the account ordered by likelihood.
// The set always contains the original account name, contains no empty
// strings, and is de-duplicated case-insensitively. Token usage is zero when
// the deterministic fallback produced the set.
func (b *Builder) Generate(ctx context.Context, acct model.AccountRef) ([]string, anthropic.TokenUsage, error) {
	if strings.TrimSpace(acct.Name) == "" {
		return nil, anthropic.TokenUsage{}, eris.New("company: account name is empty")
	}

	if b == nil || b.client == nil {
		return Fallback(acct), anthropic.TokenUsage{}, nil
	}

	forms, usage, err := b.generate(ctx, acct)
	if err != nil {
		if ctx.Err() != nil {
			return nil, usage, eris.Wrap(ctx.Err(), "company: nameset generation")
		}
		zap.L().Warn("nameset: generative pass failed, using deterministic fallback",
			zap.String("account", acct.Name),
			zap.Error(err),
		)
		return Fallback(acct), usage, nil
	}

	zap.L().Debug("nameset: generated",
		zap.String("account", acct.Name),
		zap.Int("forms", len(forms)),
	)
	return forms, usage, nil
}

func (b *Builder) generate(ctx context.Context, acct model.AccountRef) ([]string, anthropic.TokenUsage, error) {
	var raw []string
	usage, err := anthropic.CompleteJSON(ctx, b.client, anthropic.MessageRequest{
		Model:     b.model,
		MaxTokens: b.maxTokens,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: fmt.Sprintf(namesetPrompt, describeAccount(acct))},
		},
	}, &raw)
	if err != nil {
		return nil, usage, err
	}
	return sanitize(raw, acct.Name), usage, nil
}

// describeAccount renders the account attributes for the prompt, skipping
// fields the CRM left blank.
func describeAccount(acct model.AccountRef) string {
	var sb strings.Builder
	sb.WriteString(acct.Name)
	if acct.Parent != "" {
		sb.WriteString("\nParent organization: " + acct.Parent)
	}
	if acct.City != "" {
		sb.WriteString("\nCity: " + acct.City)
	}
	if acct.State != "" {
		sb.WriteString("\nState: " + acct.State)
	}
	if acct.Industry != "" {
		sb.WriteString("\nIndustry: " + acct.Industry)
	}
	return sb.String()
}

// Fallback expands an account name without the language model. It emits the
// original name, the suffix-stripped form, the saint-expanded form, and the
// first two tokens of the stripped form, then repeats the expansion for the
// parent organization.
func Fallback(acct model.AccountRef) []string {
	var forms []string
	seen := make(map[string]struct{})
	add := func(name string) {
		name = collapseSpaces(name)
		if name == "" {
			return
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		forms = append(forms, name)
	}

	expand(add, acct.Name)
	if acct.Parent != "" {
		expand(add, acct.Parent)
	}
	return forms
}

func expand(add func(string), name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	add(name)

	stripped := StripSuffix(name)
	add(stripped)
	add(SaintExpand(stripped))

	if toks := strings.Fields(stripped); len(toks) > 2 {
		add(strings.Join(toks[:2], " "))
	}
}

// sanitize post-validates a generated list: entries are trimmed, empties are
// dropped, duplicates are removed case-insensitively, and the original name
// is guaranteed present at the front when the model omitted it.
func sanitize(raw []string, original string) []string {
	forms := make([]string, 0, len(raw)+1)
	seen := make(map[string]struct{}, len(raw)+1)
	hasOriginal := false
	origKey := strings.ToLower(strings.TrimSpace(original))

	for _, r := range raw {
		r = collapseSpaces(r)
		if r == "" {
			continue
		}
		key := strings.ToLower(r)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		forms = append(forms, r)
		if key == origKey {
			hasOriginal = true
		}
	}

	if !hasOriginal {
		forms = append([]string{strings.TrimSpace(original)}, forms...)
	}
	return forms
}

// ValidateSet enforces the name-set invariants at stage boundaries.
func ValidateSet(set []string) error {
	if len(set) == 0 {
		return eris.New("company: name set is empty")
	}
	for i, s := range set {
		if strings.TrimSpace(s) == "" {
			return eris.Errorf("company: name set entry %d is empty", i)
		}
	}
	return nil
}
