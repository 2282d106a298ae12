package automation

import "context"

// Field is one of the three controls that make up a form row.
type Field int

const (
	FieldDate Field = iota
	FieldHours
	FieldCategory
)

func (f Field) String() string {
	switch f {
	case FieldDate:
		return "date"
	case FieldHours:
		return "hours"
	case FieldCategory:
		return "category"
	default:
		return "unknown"
	}
}

// Fields lists the controls in the order they are written.
var Fields = [...]Field{FieldDate, FieldHours, FieldCategory}

// Document is the live form the runner drives. Rows are addressed by
// 0-based index and re-queried on every call.
type Document interface {
	// InContext reports whether the document is the target form page.
	InContext(ctx context.Context) (bool, error)
	// HasAddRow reports whether the row-creation control is present.
	HasAddRow(ctx context.Context) (bool, error)
	// ClickAddRow activates the last row-creation control. The document may
	// reload as a result.
	ClickAddRow(ctx context.Context) error
	// RowCount is the number of rows whose three controls are all present.
	RowCount(ctx context.Context) (int, error)
	// WriteField sets a control's value and fires input and change events.
	WriteField(ctx context.Context, row int, f Field, value string) error
	// ReadField returns a control's current value; ok is false when the
	// control does not exist.
	ReadField(ctx context.Context, row int, f Field) (value string, ok bool, err error)
}
