package relay

// Registry: identity -> живое соединение. Не потокобезопасен сам по себе:
// вызывается только из Hub под его локом.
type Registry struct {
	byIdentity map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{byIdentity: make(map[string]*Connection)}
}

// Register привязывает c к его identity. Если у identity уже есть другое
// соединение, оно возвращается как replaced (last-writer-wins): вызывающий
// обязан его терминировать.
func (r *Registry) Register(c *Connection) (replaced *Connection) {
	if prev, ok := r.byIdentity[c.identity]; ok && prev != c {
		replaced = prev
	}
	r.byIdentity[c.identity] = c
	return replaced
}

// Unregister удаляет c, только если identity всё ещё указывает на него.
// Поздняя очистка вытесненного сокета не трогает его замену.
func (r *Registry) Unregister(c *Connection) bool {
	if c == nil || c.identity == "" {
		return false
	}
	if cur, ok := r.byIdentity[c.identity]; ok && cur == c {
		delete(r.byIdentity, c.identity)
		return true
	}
	return false
}

func (r *Registry) Find(identity string) (*Connection, bool) {
	c, ok := r.byIdentity[identity]
	return c, ok
}

func (r *Registry) Len() int { return len(r.byIdentity) }

func (r *Registry) Each(fn func(c *Connection)) {
	for _, c := range r.byIdentity {
		fn(c)
	}
}
