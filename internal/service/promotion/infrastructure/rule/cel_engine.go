// internal/service/promotion/infrastructure/rule/cel_engine.go
package rule

import (
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// CELEngine 是 domain.ExpressionEngine 接口的具体实现。
// 这是一个典型的适配器：把 cel-go 的 API 适配到我们自己的领域端口上，
// 业务代码只见到 "表达式 + 事实 → bool"。
type CELEngine struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCELEngine 创建表达式引擎。可用变量与求值上下文保持一致：
// subtotal（非赠品小计）、itemCount（非赠品件数）、userId。
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("subtotal", cel.DoubleType),
		cel.Variable("itemCount", cel.IntType),
		cel.Variable("userId", cel.UintType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}
	return &CELEngine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Evaluate 编译（带缓存）并执行表达式。非布尔结果视为错误。
func (e *CELEngine) Evaluate(expression string, fact map[string]interface{}) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(fact)
	if err != nil {
		return false, errors.Wrap(err, "evaluate expression")
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("expression %q did not evaluate to bool", expression)
	}
	return result, nil
}

func (e *CELEngine) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrap(issues.Err(), "compile expression")
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build expression program")
	}

	e.mu.Lock()
	e.programs[expression] = prg
	e.mu.Unlock()
	return prg, nil
}
