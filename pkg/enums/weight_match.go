package enums

// WeightMatchStatus is the result of comparing measured and expected cart weight.
type WeightMatchStatus string

const (
	WeightUnknown     WeightMatchStatus = "unknown"
	WeightMatching    WeightMatchStatus = "matching"
	WeightOverweight  WeightMatchStatus = "overweight"
	WeightUnderweight WeightMatchStatus = "underweight"
)

func (s WeightMatchStatus) String() string {
	return string(s)
}
