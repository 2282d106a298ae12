package automation

import (
	"context"
	"errors"
	"sync"
)

type cell struct {
	row   int
	field Field
}

// fakeDoc is an in-memory form. Writes to a row listed in dropWrites are
// ignored until that many writes per field have been made.
type fakeDoc struct {
	mu         sync.Mutex
	inContext  bool
	addRow     bool
	rows       int
	values     map[cell]string
	writes     map[cell]int
	dropWrites map[int]int
	clicks     int
	onClick    func()
	clickErr   error
	reloads    int
}

func newFakeDoc(rows int) *fakeDoc {
	return &fakeDoc{
		inContext:  true,
		addRow:     true,
		rows:       rows,
		values:     make(map[cell]string),
		writes:     make(map[cell]int),
		dropWrites: make(map[int]int),
	}
}

func (d *fakeDoc) InContext(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inContext, nil
}

func (d *fakeDoc) HasAddRow(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addRow, nil
}

func (d *fakeDoc) ClickAddRow(context.Context) error {
	d.mu.Lock()
	onClick := d.onClick
	if d.clickErr != nil {
		d.mu.Unlock()
		return d.clickErr
	}
	d.clicks++
	d.rows++
	d.mu.Unlock()

	if onClick != nil {
		onClick()
	}
	return nil
}

func (d *fakeDoc) RowCount(context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rows, nil
}

func (d *fakeDoc) WriteField(_ context.Context, row int, f Field, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if row >= d.rows {
		return errors.New("no such row")
	}
	c := cell{row, f}
	d.writes[c]++
	if d.writes[c] <= d.dropWrites[row] {
		return nil
	}
	d.values[c] = value
	return nil
}

func (d *fakeDoc) ReadField(_ context.Context, row int, f Field) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if row >= d.rows {
		return "", false, nil
	}
	return d.values[cell{row, f}], true, nil
}

func (d *fakeDoc) value(row int, f Field) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[cell{row, f}]
}

func (d *fakeDoc) clickCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clicks
}

func (d *fakeDoc) WaitReload(ctx context.Context) error {
	d.mu.Lock()
	d.reloads++
	d.mu.Unlock()
	return ctx.Err()
}
