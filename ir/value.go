package ir

import (
	"iter"
)

// Value is a node of the use-def graph which may be referenced by instruction
// operands. Every value owns a list of the uses referencing it.
//
// A value must have no uses left when it is destroyed; clear them with
// ReplaceAllUsesWith(nil) first.
type Value interface {
	// Type returns the type of the value.
	Type() Type
	// Ident returns the identifier used to reference the value in textual
	// form.
	Ident() string
	// Uses returns an iterator over the uses referencing the value. Uses may
	// be relinked during iteration.
	Uses() iter.Seq[*Use]
	// NumUses returns the number of uses referencing the value.
	NumUses() int
	// HasUses reports whether any use references the value.
	HasUses() bool
	// ReplaceAllUsesWith relinks every use of the value to v, or detaches them
	// if v is nil. Uses are converted to constant operands if v is a
	// *ConstantValue.
	ReplaceAllUsesWith(v Value)

	useList() *useList
}

// Use is an edge of the use-def graph, linking an instruction operand to the
// value it reads. A use is embedded in its operand and never outlives the
// instruction owning that operand.
type Use struct {
	prev, next *Use
	// Instruction owning the operand.
	user *Instruction
	// Index of the operand within the operand list of user.
	index int
	// Referenced value; nil if detached.
	value Value
}

// User returns the instruction owning the use.
func (u *Use) User() *Instruction { return u.user }

// Index returns the operand index of the use within its user.
func (u *Use) Index() int { return u.index }

// Value returns the value referenced by the use, or nil if detached.
func (u *Use) Value() Value { return u.value }

// Operand returns the operand embedding the use.
func (u *Use) Operand() *Operand { return &u.user.operands[u.index] }

// set unlinks u from its current value and links it into the use list of v.
func (u *Use) set(v Value) {
	u.unlink()
	if v == nil {
		return
	}
	u.value = v
	v.useList().push(u)
}

// unlink removes u from the use list of its value.
func (u *Use) unlink() {
	if u.value == nil {
		return
	}
	u.prev.next = u.next
	u.next.prev = u.prev
	u.prev, u.next, u.value = nil, nil, nil
}

// relink repairs the links of neighbouring uses after u has been moved to a
// new memory location.
func (u *Use) relink() {
	if u.value == nil {
		return
	}
	u.prev.next = u
	u.next.prev = u
}

// useList is a circular doubly linked list of uses with a sentinel head. The
// zero value is an empty list.
type useList struct {
	head Use
}

func (l *useList) lazyInit() {
	if l.head.next == nil {
		l.head.next = &l.head
		l.head.prev = &l.head
	}
}

func (l *useList) empty() bool {
	return l.head.next == nil || l.head.next == &l.head
}

func (l *useList) push(u *Use) {
	l.lazyInit()
	u.prev = l.head.prev
	u.next = &l.head
	l.head.prev.next = u
	l.head.prev = u
}

// valueBase implements the use list handling of Value.
type valueBase struct {
	users useList
}

func (b *valueBase) useList() *useList { return &b.users }

// Uses returns an iterator over the uses referencing the value.
func (b *valueBase) Uses() iter.Seq[*Use] {
	return func(yield func(*Use) bool) {
		l := &b.users
		if l.empty() {
			return
		}
		for u := l.head.next; u != &l.head; {
			next := u.next
			if !yield(u) {
				return
			}
			u = next
		}
	}
}

// NumUses returns the number of uses referencing the value.
func (b *valueBase) NumUses() int {
	n := 0
	for range b.Uses() {
		n++
	}
	return n
}

// HasUses reports whether any use references the value.
func (b *valueBase) HasUses() bool { return !b.users.empty() }

// ReplaceAllUsesWith relinks every use of the value to v.
func (b *valueBase) ReplaceAllUsesWith(v Value) {
	if v != nil && v.useList() == &b.users {
		return
	}
	cv, isConst := v.(*ConstantValue)
	for u := range b.Uses() {
		if isConst {
			u.Operand().SetConstant(cv.Constant)
			continue
		}
		u.set(v)
	}
}

// ConstantValue wraps a constant for consumption where a Value is expected.
// Operands initialized from a ConstantValue hold the constant itself, so a
// ConstantValue never accumulates uses.
type ConstantValue struct {
	valueBase
	Constant Constant
}

// Const returns a value wrapping the given constant.
func Const(c Constant) *ConstantValue {
	return &ConstantValue{Constant: c}
}

// Type returns the type of the constant.
func (cv *ConstantValue) Type() Type { return cv.Constant.Type() }

// Ident returns the string representation of the constant.
func (cv *ConstantValue) Ident() string { return cv.Constant.String() }
