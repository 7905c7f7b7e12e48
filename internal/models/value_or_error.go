package models

// ValueOrError is one item of a batch fetch that may have failed on its own.
type ValueOrError[T any] struct {
	Value T
	Err   error
}

func Value[T any](v T) ValueOrError[T] {
	return ValueOrError[T]{Value: v}
}

func Error[T any](err error) ValueOrError[T] {
	return ValueOrError[T]{Err: err}
}

// PartitionValues splits a batch into its successful values and its errors,
// keeping the original order within each group.
func PartitionValues[T any](items []ValueOrError[T]) ([]T, []error) {
	values := make([]T, 0, len(items))
	var errs []error
	for _, it := range items {
		if it.Err != nil {
			errs = append(errs, it.Err)
			continue
		}
		values = append(values, it.Value)
	}
	return values, errs
}
