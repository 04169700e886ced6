// Package dsl 基于 CEL 的输入取值范围检查。
//
// 规则表达式以 row 访问本行的数值字段：
//
//	row.psqi_global >= 0.0 && row.psqi_global <= 21.0
//
// 规则只在引用的字段全部出现时求值；结果为 false 时产生 warning，不阻塞预测。
package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/reminsight/pkg/logger"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(cel.Variable("row", cel.MapType(cel.StringType, cel.DoubleType)))
	})
	return celEnv, celEnvErr
}

// Rule 是一条范围规则
type Rule struct {
	Name string `yaml:"name" json:"name"`
	Expr string `yaml:"expr" json:"expr"`
	// Fields 规则引用的字段，全部出现才求值
	Fields []string `yaml:"fields" json:"fields"`
	// Message 为空时使用 "<name> failed"
	Message string `yaml:"message" json:"message"`
}

// RangeRule 构造 [min, max] 闭区间规则
func RangeRule(field string, min, max float64) Rule {
	return Rule{
		Name:    field + "_range",
		Expr:    fmt.Sprintf("row[%q] >= %s && row[%q] <= %s", field, double(min), field, double(max)),
		Fields:  []string{field},
		Message: fmt.Sprintf("%s out of %g..%g", field, min, max),
	}
}

// double 输出 CEL double 字面量，整数值补 ".0"
func double(v float64) string {
	s := fmt.Sprintf("%g", v)
	for _, c := range s {
		if c == '.' || c == 'e' {
			return s
		}
	}
	return s + ".0"
}

// DefaultRules 问卷与睡眠指标的取值范围
func DefaultRules() []Rule {
	rules := make([]Rule, 0, 10)
	for i := 1; i <= 7; i++ {
		rules = append(rules, RangeRule(fmt.Sprintf("psqi_c%d", i), 0, 3))
	}
	return append(rules,
		RangeRule("psqi_global", 0, 21),
		RangeRule("REM_latency_min", 5, 600),
		RangeRule("artifact_pct", 0, 100),
	)
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// Guard 按顺序执行规则，实现 service.Guard
type Guard struct {
	rules  []compiledRule
	logger *logger.Logger
}

// NewGuard 编译规则，表达式不合法或结果不是 bool 时返回错误
func NewGuard(rules []Rule, l *logger.Logger) (*Guard, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("init cel env: %w", err)
	}
	if l == nil {
		l = logger.Get()
	}
	g := &Guard{logger: l.With("component", "guard")}
	for _, r := range rules {
		if r.Expr == "" {
			return nil, fmt.Errorf("rule %q: expression is empty", r.Name)
		}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %q: compile error: %w", r.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %q: expression must return bool, got %s", r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %q: program error: %w", r.Name, err)
		}
		g.rules = append(g.rules, compiledRule{Rule: r, prg: prg})
	}
	return g, nil
}

// Len 返回规则数
func (g *Guard) Len() int { return len(g.rules) }

// Check 返回不满足的规则对应的 warning，求值错误只记录日志
func (g *Guard) Check(row map[string]float64) []string {
	var warnings []string
	input := map[string]any{"row": row}
	for _, r := range g.rules {
		if !present(row, r.Fields) {
			continue
		}
		out, _, err := r.prg.Eval(input)
		if err != nil {
			g.logger.Debugw("rule evaluation failed", "rule", r.Name, "error", err)
			continue
		}
		if ok, _ := out.Value().(bool); ok {
			continue
		}
		msg := r.Message
		if msg == "" {
			msg = r.Name + " failed"
		}
		warnings = append(warnings, msg)
	}
	return warnings
}

func present(row map[string]float64, fields []string) bool {
	for _, f := range fields {
		if _, ok := row[f]; !ok {
			return false
		}
	}
	return true
}
