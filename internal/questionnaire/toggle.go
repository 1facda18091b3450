package questionnaire

import (
	"fmt"
	"slices"
)

// ToggleOption turns option index on or off in a multi_select answer.
// Bitflag questions OR in or AND-NOT out the option's bit starting from 0;
// array questions append or remove the option id, so ids never repeat.
func ToggleOption(q *Question, current Answer, index int, on bool) (Answer, error) {
	if q.Type != TypeMultiSelect {
		return nil, fmt.Errorf("question %s is not multi_select", q.ID)
	}
	if index < 0 || index >= len(q.Options) {
		return nil, fmt.Errorf("option index %d out of range for question %s", index, q.ID)
	}

	if q.Bitflag {
		var mask Bitmask
		switch v := current.(type) {
		case nil:
		case Bitmask:
			mask = v
		default:
			return nil, fmt.Errorf("question %s holds a %T, want a bitmask", q.ID, current)
		}
		bit, err := q.BitFor(index)
		if err != nil {
			return nil, err
		}
		if on {
			return mask | 1<<bit, nil
		}
		return mask &^ (1 << bit), nil
	}

	var selected Choice
	switch v := current.(type) {
	case nil:
	case Choice:
		selected = slices.Clone(v)
	default:
		return nil, fmt.Errorf("question %s holds a %T, want a choice list", q.ID, current)
	}
	id := q.Options[index].ID
	if on {
		if !slices.Contains(selected, id) {
			selected = append(selected, id)
		}
		return selected, nil
	}
	return slices.DeleteFunc(selected, func(s string) bool { return s == id }), nil
}

// Selected reports whether option index is selected in answer a.
func Selected(q *Question, a Answer, index int) bool {
	if index < 0 || index >= len(q.Options) {
		return false
	}
	switch v := a.(type) {
	case Bitmask:
		bit, err := q.BitFor(index)
		return err == nil && v&(1<<bit) != 0
	case Choice:
		return slices.Contains(v, q.Options[index].ID)
	}
	return false
}
