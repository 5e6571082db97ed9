/*
aggregate.go - The Aggregate Writer

PURPOSE:
  Pure fold functions that apply a signed delta (+1 for a new SOLD
  transaction, -1 for a reversal) to the three aggregate families. The
  surrounding transactionality is the caller's responsibility; these
  functions only transform (current state, transaction, sign) into new
  state.

TWO PRIMITIVES:
  ApplyMergedReplace: mutates the shared DailySummary/StaffDailySummary
    pair in place. Callers run it inside AggregateStore.UpdateDaySummaries
    so the read-modify-write cycle is atomic.
  ProductIncrementFor: produces a commutative ProductDelta for the
    per-product family, applied via AggregateStore.IncrementProductDaily
    without any prior read.

ROUNDING:
  Every monetary addition is rounded to 2 decimal places immediately, so
  repeated small increments cannot accumulate floating-point drift.
*/
package engine

// ApplyMergedReplace folds one transaction into the day's DailySummary and
// StaffDailySummary with the given sign. Hour buckets and staff buckets
// that drop back to zero are removed, so a full reversal restores the
// exact pre-transaction state.
func ApplyMergedReplace(ds *DailySummary, ss *StaffDailySummary, tx Transaction, sign int) {
	value := tx.LineValue
	if sign < 0 {
		value = value.Neg()
	}

	// Daily totals
	ds.TotalValue = Round2(ds.TotalValue.Add(value))
	ds.TotalCount += sign

	// Hourly breakdown
	hour := tx.OccurredAt.Hour()
	bucket := ds.Hourly[hour]
	bucket.TotalValue = Round2(bucket.TotalValue.Add(value))
	bucket.Count += sign
	if bucket.Count == 0 && bucket.TotalValue.IsZero() {
		delete(ds.Hourly, hour)
	} else {
		ds.Hourly[hour] = bucket
	}

	// Staff partition
	staff := ss.Staff[tx.StaffID]
	if staff.Name == "" {
		staff.Name = tx.StaffName
	}
	staff.TotalValue = Round2(staff.TotalValue.Add(value))
	staff.Count += sign
	if staff.Count == 0 && staff.TotalValue.IsZero() {
		delete(ss.Staff, tx.StaffID)
	} else {
		ss.Staff[tx.StaffID] = staff
	}
}

// ProductIncrementFor builds the commutative per-product delta for one
// transaction with the given sign.
func ProductIncrementFor(tx Transaction, sign int) ProductDelta {
	weight := tx.WeightGrams
	value := tx.LineValue
	if sign < 0 {
		weight = weight.Neg()
		value = value.Neg()
	}
	return ProductDelta{
		Date:        tx.SaleDate,
		ProductCode: tx.ProductCode,
		ProductName: tx.ProductName,
		WeightGrams: weight,
		Value:       Round2(value),
		Count:       sign,
	}
}

// MergeProductDeltas collapses per-transaction deltas into one delta per
// (date, product) key, preserving insertion order of first appearance.
// The reconciler uses this so a page issues one increment per product.
func MergeProductDeltas(deltas []ProductDelta) []ProductDelta {
	index := make(map[string]int)
	var merged []ProductDelta
	for _, d := range deltas {
		key := ProductDayKey(d.Date, d.ProductCode)
		if i, ok := index[key]; ok {
			merged[i].WeightGrams = merged[i].WeightGrams.Add(d.WeightGrams)
			merged[i].Value = Round2(merged[i].Value.Add(d.Value))
			merged[i].Count += d.Count
			continue
		}
		index[key] = len(merged)
		merged = append(merged, d)
	}
	return merged
}

// missingFields returns the required aggregate fields absent from a
// transaction. A transaction with any missing field cannot be folded into
// (or reversed out of) the aggregates.
func missingFields(tx Transaction) []string {
	var missing []string
	if tx.SaleDate == "" {
		missing = append(missing, "saleDate")
	}
	if tx.StaffID == "" {
		missing = append(missing, "staffId")
	}
	if tx.ProductCode == "" {
		missing = append(missing, "productCode")
	}
	if tx.LineValue.IsZero() && tx.WeightGrams.IsZero() {
		missing = append(missing, "lineValue")
	}
	return missing
}
