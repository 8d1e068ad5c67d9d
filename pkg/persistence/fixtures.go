package persistence

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dukex/dunning/pkg/models"
)

// Fixtures is a YAML document of debtor and catalog data used to seed a store.
type Fixtures struct {
	Debts         []models.Debt          `yaml:"debts"`
	Contacts      []models.Contact       `yaml:"contacts"`
	History       []models.HistoryRecord `yaml:"history"`
	Templates     []models.Template      `yaml:"templates"`
	Agents        []models.Agent         `yaml:"agents"`
	RetryPolicies []retryPolicyFixture   `yaml:"retry_policies"`
}

type retryPolicyFixture struct {
	TenantID     string   `yaml:"tenant_id"`
	Channel      string   `yaml:"channel"`
	MaxAttempts  int      `yaml:"max_attempts"`
	BackoffSteps []string `yaml:"backoff_steps"`
}

// LoadFixtures reads a fixtures file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures %s: %w", path, err)
	}

	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures %s: %w", path, err)
	}

	return &f, nil
}

type retryPolicySaver interface {
	SaveRetryPolicy(ctx context.Context, policy *models.RetryPolicy) error
}

// Seed writes every fixture through the seeder. Retry policies are written when
// the store also implements RetryPolicyRepository.
func Seed(ctx context.Context, s Seeder, f *Fixtures) error {
	for i := range f.Debts {
		if err := s.SaveDebt(ctx, &f.Debts[i]); err != nil {
			return fmt.Errorf("failed to seed debt %s: %w", f.Debts[i].ID, err)
		}
	}

	for i := range f.Contacts {
		if err := s.SaveContact(ctx, &f.Contacts[i]); err != nil {
			return fmt.Errorf("failed to seed contact %s: %w", f.Contacts[i].ID, err)
		}
	}

	for i := range f.History {
		if err := s.SaveHistory(ctx, &f.History[i]); err != nil {
			return fmt.Errorf("failed to seed history %s: %w", f.History[i].ID, err)
		}
	}

	for i := range f.Templates {
		if err := s.SaveTemplate(ctx, &f.Templates[i]); err != nil {
			return fmt.Errorf("failed to seed template %s: %w", f.Templates[i].ID, err)
		}
	}

	for i := range f.Agents {
		if err := s.SaveAgent(ctx, &f.Agents[i]); err != nil {
			return fmt.Errorf("failed to seed agent %s: %w", f.Agents[i].ID, err)
		}
	}

	saver, ok := s.(retryPolicySaver)
	if !ok {
		return nil
	}

	for _, rp := range f.RetryPolicies {
		policy, err := rp.policy()
		if err != nil {
			return err
		}

		if err := saver.SaveRetryPolicy(ctx, policy); err != nil {
			return fmt.Errorf("failed to seed retry policy %s/%s: %w", rp.TenantID, rp.Channel, err)
		}
	}

	return nil
}

func (rp retryPolicyFixture) policy() (*models.RetryPolicy, error) {
	policy := &models.RetryPolicy{
		TenantID:    rp.TenantID,
		Channel:     models.Channel(rp.Channel),
		MaxAttempts: rp.MaxAttempts,
	}

	for _, s := range rp.BackoffSteps {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("retry policy %s/%s: invalid backoff step %q: %w", rp.TenantID, rp.Channel, s, err)
		}

		policy.BackoffSteps = append(policy.BackoffSteps, d)
	}

	return policy, nil
}
