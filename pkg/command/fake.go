package command

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Call Fake 记录的一次调用
type Call struct {
	Name string
	Args []string
	Env  []string
}

// String 按 Join 的格式渲染调用
func (c Call) String() string { return Join(c.Name, c.Args...) }

// Response Fake 对匹配命令行的应答
type Response struct {
	Output   string
	ExitCode int
}

// Fake 记录调用，并按命令行前缀从表中应答，未匹配的命令成功且无输出
type Fake struct {
	mu        sync.Mutex
	Calls     []Call
	responses []fakeRule
}

type fakeRule struct {
	prefix string
	fn     func(Call) Response
}

// NewFake 返回空的 Fake
func NewFake() *Fake { return &Fake{} }

// On 为以 prefix 开头的命令行登记固定应答，后登记的优先
func (f *Fake) On(prefix string, resp Response) {
	f.OnFunc(prefix, func(Call) Response { return resp })
}

// OnFunc 登记动态应答
func (f *Fake) OnFunc(prefix string, fn func(Call) Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fakeRule{prefix: prefix, fn: fn})
}

func (f *Fake) Run(_ context.Context, opts *Options, name string, args ...string) (*Result, error) {
	call := Call{Name: name, Args: append([]string(nil), args...)}
	if opts != nil {
		call.Env = append([]string(nil), opts.Env...)
	}

	f.mu.Lock()
	f.Calls = append(f.Calls, call)
	var rule *fakeRule
	line := call.String()
	for i := len(f.responses) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, f.responses[i].prefix) {
			rule = &f.responses[i]
			break
		}
	}
	f.mu.Unlock()

	res := &Result{Command: line}
	if rule == nil {
		return res, nil
	}
	resp := rule.fn(call)
	res.Output = resp.Output
	res.ExitCode = resp.ExitCode
	if resp.ExitCode != 0 {
		res.Error = fmt.Sprintf("exit status %d", resp.ExitCode)
		return res, fmt.Errorf("%s: %s", line, res.Error)
	}
	return res, nil
}

// Lines 返回所有记录的命令行
func (f *Fake) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		out = append(out, c.String())
	}
	return out
}

// Count 返回以 prefix 开头的命令行数量
func (f *Fake) Count(prefix string) int {
	n := 0
	for _, l := range f.Lines() {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}
