package conditions

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/veloflow/veloflow/pkg/models"
	"github.com/veloflow/veloflow/pkg/template"
)

const defaultCacheSize = 1024

// Evaluator evaluates conditions against execution contexts. Results for a
// given (condition, variable bag) pair are cached in a bounded LRU; error
// results are never cached. Safe for concurrent use across runs.
type Evaluator struct {
	cache  *lru.Cache[string, bool]
	hits   atomic.Int64
	misses atomic.Int64
	logger *slog.Logger
}

func NewEvaluator(cacheSize int, logger *slog.Logger) (*Evaluator, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	cache, err := lru.New[string, bool](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create condition cache: %w", err)
	}

	return &Evaluator{
		cache:  cache,
		logger: logger.With("module", "condition_evaluator"),
	}, nil
}

// Evaluate resolves a condition to a boolean.
func (e *Evaluator) Evaluate(cond models.Condition, executionCtx *models.ExecutionContext) (bool, error) {
	key, cacheable := e.cacheKey(cond, executionCtx)
	if cacheable {
		if result, ok := e.cache.Get(key); ok {
			e.hits.Add(1)

			return result, nil
		}

		e.misses.Add(1)
	}

	result, err := e.evaluate(cond, executionCtx)
	if err != nil {
		return false, err
	}

	if cacheable {
		e.cache.Add(key, result)
	}

	return result, nil
}

// EvaluateSwitch matches the switch field against its case lists and returns
// the matched case result or the default.
func (e *Evaluator) EvaluateSwitch(sw models.SwitchCondition, executionCtx *models.ExecutionContext) (string, error) {
	if sw.Field == "" {
		return "", fmt.Errorf("%w: switch requires a field", models.ErrInvalidCondition)
	}

	value, _ := executionCtx.Lookup(sw.Field)

	for _, c := range sw.Cases {
		for _, candidate := range c.Match {
			if looseEquals(value, candidate) {
				return c.Result, nil
			}
		}
	}

	return sw.Default, nil
}

// CacheHits exposes the hit counter for idempotence checks.
func (e *Evaluator) CacheHits() int64 {
	return e.hits.Load()
}

// CacheMisses exposes the miss counter.
func (e *Evaluator) CacheMisses() int64 {
	return e.misses.Load()
}

func (e *Evaluator) evaluate(cond models.Condition, executionCtx *models.ExecutionContext) (bool, error) {
	switch cond.Kind {
	case models.ConditionKindLiteral:
		if cond.Value == nil {
			return false, fmt.Errorf("%w: literal condition requires a value", models.ErrInvalidCondition)
		}

		return *cond.Value, nil
	case models.ConditionKindExpression:
		return e.evaluateExpression(cond.Expression, executionCtx)
	case models.ConditionKindField:
		left, _ := executionCtx.Lookup(cond.Field)

		operand := cond.Operand
		if s, ok := operand.(string); ok && template.HasPlaceholders(s) {
			operand = template.Render(s, executionCtx)
		}

		return Apply(cond.Operator, left, operand)
	case models.ConditionKindAnd:
		for _, sub := range cond.Conditions {
			ok, err := e.evaluate(sub, executionCtx)
			if err != nil || !ok {
				return false, err
			}
		}

		return true, nil
	case models.ConditionKindOr:
		for _, sub := range cond.Conditions {
			ok, err := e.evaluate(sub, executionCtx)
			if err != nil {
				return false, err
			}

			if ok {
				return true, nil
			}
		}

		return false, nil
	case models.ConditionKindNot:
		if cond.Negate == nil {
			return false, fmt.Errorf("%w: not condition requires a nested condition", models.ErrInvalidCondition)
		}

		ok, err := e.evaluate(*cond.Negate, executionCtx)

		return !ok, err
	case models.ConditionKindSwitch:
		if cond.Switch == nil {
			return false, fmt.Errorf("%w: switch condition requires switch configuration", models.ErrInvalidCondition)
		}

		result, err := e.EvaluateSwitch(*cond.Switch, executionCtx)
		if err != nil {
			return false, err
		}

		return result != "", nil
	default:
		return false, fmt.Errorf("%w: unknown condition kind %q", models.ErrInvalidCondition, cond.Kind)
	}
}

// evaluateExpression handles the restricted string form: placeholders are
// interpolated first, then the result is split on one of ==, !=, >, < and
// compared. No broader expression syntax is accepted.
func (e *Evaluator) evaluateExpression(expression string, executionCtx *models.ExecutionContext) (bool, error) {
	interpolated := template.RenderString(expression, executionCtx)
	trimmed := strings.TrimSpace(interpolated)

	if trimmed == "true" {
		return true, nil
	}

	if trimmed == "false" {
		return false, nil
	}

	for _, op := range []struct {
		token    string
		operator models.Operator
	}{
		{"==", models.OperatorEquals},
		{"!=", models.OperatorNotEquals},
		{">", models.OperatorGreaterThan},
		{"<", models.OperatorLessThan},
	} {
		left, right, found := strings.Cut(trimmed, op.token)
		if !found {
			continue
		}

		return Apply(op.operator, strings.TrimSpace(left), strings.TrimSpace(right))
	}

	return false, fmt.Errorf("%w: expression %q has no comparison", models.ErrInvalidCondition, expression)
}

// cacheKey hashes the condition configuration together with the variable
// bag. Map keys are sorted by encoding/json, so the key is deterministic for
// identical inputs.
func (e *Evaluator) cacheKey(cond models.Condition, executionCtx *models.ExecutionContext) (string, bool) {
	payload, err := json.Marshal(struct {
		Condition models.Condition `json:"c"`
		Trigger   map[string]any   `json:"t"`
		Variables map[string]any   `json:"v"`
		Steps     map[string]any   `json:"s"`
	}{cond, executionCtx.TriggerData, executionCtx.Variables, executionCtx.StepResults})
	if err != nil {
		e.logger.Debug("Condition not cacheable", "error", err)

		return "", false
	}

	sum := sha256.Sum256(payload)

	return hex.EncodeToString(sum[:]), true
}
