package clientv2

import (
	"net/http"
	"sort"
)

// InterceptorPriority 数字越小越先执行
type InterceptorPriority int

const (
	InterceptorPriorityRetrySimple InterceptorPriority = 300
	InterceptorPrioritySetHeader   InterceptorPriority = 400
	InterceptorPriorityNormal      InterceptorPriority = 500
	InterceptorPriorityAuth        InterceptorPriority = 600
	InterceptorPriorityDebug       InterceptorPriority = 700
)

// Interceptor 包装一次请求，调用 next 把请求交给下一个拦截器
type Interceptor interface {
	Priority() InterceptorPriority
	Intercept(req *http.Request, next Handler) (*http.Response, error)
}

// InterceptorFunc 以 InterceptorPriorityNormal 执行的函数拦截器
type InterceptorFunc func(req *http.Request, next Handler) (*http.Response, error)

func (f InterceptorFunc) Priority() InterceptorPriority {
	return InterceptorPriorityNormal
}

func (f InterceptorFunc) Intercept(req *http.Request, next Handler) (*http.Response, error) {
	if f == nil {
		return next(req)
	}
	return f(req, next)
}

// WithPriority 返回指定优先级的拦截器，priority 不大于 0 时使用 InterceptorPriorityNormal
func (f InterceptorFunc) WithPriority(priority InterceptorPriority) Interceptor {
	if priority <= 0 {
		priority = InterceptorPriorityNormal
	}
	return prioritized{InterceptorFunc: f, priority: priority}
}

type prioritized struct {
	InterceptorFunc
	priority InterceptorPriority
}

func (p prioritized) Priority() InterceptorPriority {
	return p.priority
}

// chain 把拦截器排成从外到内的包装顺序：优先级数字小的在外层，同优先级按传入顺序
func chain(interceptors []Interceptor) []Interceptor {
	sorted := make([]Interceptor, 0, len(interceptors))
	for _, interceptor := range interceptors {
		if interceptor != nil {
			sorted = append(sorted, interceptor)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return sorted
}
