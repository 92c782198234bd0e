package cache

// Nop caches nothing.
type Nop struct{}

func NewNop() Nop { return Nop{} }

func (Nop) Get(string) (any, bool)        { return nil, false }
func (Nop) Put(string, any, ...PutOption) {}
func (Nop) Delete(string)                 {}
func (Nop) Len() int                      { return 0 }
func (Nop) Close()                        {}

var _ Cache = Nop{}
