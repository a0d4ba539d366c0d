package query

// AST node kinds for the query DSL. The language is deliberately small:
// assignments, boolean expressions, comparisons, literals, calls to
// allow-listed functions, and method chains on entity references.

type node interface {
	line() int
}

type program struct {
	stmts []node
}

type assignNode struct {
	ln    int
	name  string
	value node
}

type identNode struct {
	ln   int
	name string
}

type intNode struct {
	ln    int
	value int64
}

type floatNode struct {
	ln    int
	value float64
}

type stringNode struct {
	ln    int
	value string
}

type boolNode struct {
	ln    int
	value bool
}

type nullNode struct {
	ln int
}

type listNode struct {
	ln    int
	items []node
}

// callNode is a call to a top-level function: len(x), days_ago(7), month(f).
type callNode struct {
	ln   int
	fn   string
	args []node
}

// methodNode is a method call on a receiver: Payment.filter(...).count().
type methodNode struct {
	ln   int
	recv node
	name string
	args []node
}

// attrNode is a bare attribute access (no call): ns.Entity. The evaluator
// rejects it with an "is not defined" style error so that the repair loop can
// recognize namespaced entity references.
type attrNode struct {
	ln   int
	recv node
	name string
}

type unaryNode struct {
	ln int
	op string // "not", "-"
	x  node
}

type binaryNode struct {
	ln   int
	op   string // and, or, ==, !=, <, <=, >, >=, in, contains, +, -, *, /
	x, y node
}

func (n *assignNode) line() int { return n.ln }
func (n *identNode) line() int  { return n.ln }
func (n *intNode) line() int    { return n.ln }
func (n *floatNode) line() int  { return n.ln }
func (n *stringNode) line() int { return n.ln }
func (n *boolNode) line() int   { return n.ln }
func (n *nullNode) line() int   { return n.ln }
func (n *listNode) line() int   { return n.ln }
func (n *callNode) line() int   { return n.ln }
func (n *methodNode) line() int { return n.ln }
func (n *attrNode) line() int   { return n.ln }
func (n *unaryNode) line() int  { return n.ln }
func (n *binaryNode) line() int { return n.ln }
