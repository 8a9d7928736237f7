package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"KnowledgeScanner/internal/domain"
)

// Keys of the record store config table that override file configuration.
const (
	ConfigTopics     = "topics"
	ConfigThreshold  = "relevance_threshold"
	ConfigWindowDays = "dashboard_window_days"
)

// snapshot returns the settings for one run. Stored overrides win over the configured
// baseline; unreadable or malformed overrides are logged and ignored.
func (p *Pipeline) snapshot(ctx context.Context) domain.Settings {
	s := domain.Settings{
		Topics:     append([]string(nil), p.settings.Topics...),
		Threshold:  p.settings.Threshold,
		WindowDays: p.settings.WindowDays,
	}

	values, err := p.repository.ConfigValues(ctx)
	if err != nil {
		p.logger.Warn("load stored settings", "error", err)
		return s
	}

	if raw, ok := values[ConfigTopics]; ok {
		if topics := splitTopics(raw); len(topics) > 0 {
			s.Topics = topics
		}
	}
	if raw, ok := values[ConfigThreshold]; ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || v < 0 || v > 10 {
			p.logger.Warn("ignore stored threshold", "value", raw)
		} else {
			s.Threshold = v
		}
	}
	if raw, ok := values[ConfigWindowDays]; ok {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || v <= 0 {
			p.logger.Warn("ignore stored window", "value", raw)
		} else {
			s.WindowDays = v
		}
	}
	return s
}

// Settings returns the snapshot a run started now would use.
func (p *Pipeline) Settings(ctx context.Context) domain.Settings {
	return p.snapshot(ctx)
}

// UpdateSetting validates and stores one override; it applies from the next run on.
func (p *Pipeline) UpdateSetting(ctx context.Context, key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case ConfigTopics:
		topics := splitTopics(value)
		if len(topics) == 0 {
			return fmt.Errorf("%w: %s: no topics", domain.ErrInvalidSetting, key)
		}
		value = strings.Join(topics, ",")
	case ConfigThreshold:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v < 0 || v > 10 {
			return fmt.Errorf("%w: %s must be a number in [0, 10]", domain.ErrInvalidSetting, key)
		}
	case ConfigWindowDays:
		v, err := strconv.Atoi(value)
		if err != nil || v <= 0 {
			return fmt.Errorf("%w: %s must be a positive integer", domain.ErrInvalidSetting, key)
		}
	default:
		return fmt.Errorf("%w: unknown key %q", domain.ErrInvalidSetting, key)
	}

	if err := p.repository.SetConfig(ctx, key, value); err != nil {
		return fmt.Errorf("store setting: %w", err)
	}
	p.logger.Info("setting updated", "key", key, "value", value)
	return nil
}

func splitTopics(raw string) []string {
	return domain.NewTopicSet(strings.Split(raw, ",")...).Values()
}
