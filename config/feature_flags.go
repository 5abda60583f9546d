package config

import (
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags holds runtime toggles for optional bot behavior.
// A feature can be rolled out to a percentage of users; buckets are
// stable per user.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	userOverrides map[int64]map[string]bool // telegramID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	RolloutPercent int
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	UserID  int64 // Telegram ID
	IsAdmin bool
}

// Predefined feature flag names.
const (
	FeatureHomeworkPrompt    = "notify.homework_prompt" // "Lesson delivered, send your homework"
	FeatureCompletionMessage = "notify.completion"      // Congratulation on course completion
	FeatureDocumentHomework  = "homework.documents"     // Accept documents, not only photos
	FeatureTextActivation    = "activation.plain_text"  // Plain text message is tried as a code
	FeatureProgressNextDue   = "progress.next_due"      // Show next delivery time in /progress
	FeatureAdminRedeliver    = "admin.redeliver"        // /redeliver command
)

// LoadFeatureFlags loads defaults and FEATURE_* overrides from the environment.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[int64]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	defaults := []Feature{
		{Name: FeatureHomeworkPrompt, Description: "Prompt for homework after a lesson is delivered", Enabled: true},
		{Name: FeatureCompletionMessage, Description: "Congratulate on course completion", Enabled: true},
		{Name: FeatureDocumentHomework, Description: "Accept homework sent as a document", Enabled: true},
		{Name: FeatureTextActivation, Description: "Treat plain text as an activation code", Enabled: true},
		{Name: FeatureProgressNextDue, Description: "Show the next delivery time in /progress", Enabled: true},
		{Name: FeatureAdminRedeliver, Description: "Allow admins to re-send failed lesson content", Enabled: true},
	}

	for _, f := range defaults {
		f := f
		if f.Enabled {
			f.RolloutPercent = 100
		}
		ff.features[f.Name] = &f
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_NOTIFY_HOMEWORK_PROMPT=false
// Example: FEATURE_PROGRESS_NEXT_DUE=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "notify.homework_prompt" -> "FEATURE_NOTIFY_HOMEWORK_PROMPT"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
// A nil receiver treats every known feature as enabled.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	if ff == nil {
		return true
	}

	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.UserID != 0 {
		if userOverrides, ok := ff.userOverrides[ctx.UserID]; ok {
			if enabled, ok := userOverrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.UserID != 0 {
		return isInRollout(ctx.UserID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout maps user+feature to a stable 0-99 bucket.
func isInRollout(userID int64, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(strconv.FormatInt(userID, 10)))

	return int(h.Sum32()%100) < percent
}

// SetUserOverride sets a feature override for a specific user.
func (ff *FeatureFlags) SetUserOverride(userID int64, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// Snapshot returns copies of all features sorted by name.
func (ff *FeatureFlags) Snapshot() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
