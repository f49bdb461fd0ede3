package handler

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/discount-engine/internal/domain/discount"
)

// Request bodies mirror the engine types with camelCase keys. Money may be
// sent as a JSON number or a decimal string; responses always use numbers.

type saleContext struct {
	Cart       discount.Cart
	CustomerID string
	BranchID   string
}

type applyBody struct {
	saleContext
	RuleIDs    []string
	Revalidate bool
}

type usageBody struct {
	SaleID     string
	CustomerID string
	Amount     decimal.Decimal
	OrderTotal decimal.Decimal
}

type saleUsageBody struct {
	CustomerID string
	OrderTotal decimal.Decimal
	Applied    []discount.AppliedDiscount
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		v, err := decimal.NewFromString(s)
		return v, errors.Wrapf(err, "parse decimal %q", s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		v, err := decimal.NewFromString(string(n))
		return v, errors.Wrapf(err, "parse decimal %q", string(n))
	default:
		return decimal.Decimal{}, errors.Errorf("expected number, got %s", d.Next())
	}
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	out := []string{}
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func decodeItem(d *jx.Decoder) (discount.Item, error) {
	var item discount.Item
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "productId":
			item.ProductID, err = d.Str()
		case "quantity":
			item.Quantity, err = d.Int()
		case "subtotal":
			item.Subtotal, err = decodeDecimal(d)
		case "categoryIds":
			item.CategoryIDs, err = decodeStrings(d)
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "item %s", key)
	})
	return item, err
}

func decodeCart(d *jx.Decoder) (discount.Cart, error) {
	var cart discount.Cart
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				item, err := decodeItem(d)
				if err != nil {
					return err
				}
				cart.Items = append(cart.Items, item)
				return nil
			})
		case "subtotal":
			v, err := decodeDecimal(d)
			cart.Subtotal = v
			return errors.Wrap(err, "subtotal")
		default:
			return d.Skip()
		}
	})
	return cart, err
}

// field decodes the keys shared by every sale-scoped request. It reports
// false for keys it does not own.
func (s *saleContext) field(d *jx.Decoder, key string) (bool, error) {
	var err error
	switch key {
	case "cart":
		s.Cart, err = decodeCart(d)
		err = errors.Wrap(err, "cart")
	case "customerId":
		s.CustomerID, err = decodeOptString(d)
	case "branchId":
		s.BranchID, err = decodeOptString(d)
	default:
		return false, nil
	}
	return true, err
}

func decodeOptString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeSaleContext(d *jx.Decoder) (saleContext, error) {
	var s saleContext
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		ok, err := s.field(d, string(key))
		if !ok {
			return d.Skip()
		}
		return err
	})
	return s, err
}

func decodeApply(d *jx.Decoder) (applyBody, error) {
	var b applyBody
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if ok, err := b.field(d, string(key)); ok {
			return err
		}
		var err error
		switch string(key) {
		case "discountIds":
			b.RuleIDs, err = decodeStrings(d)
		case "revalidate":
			b.Revalidate, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	return b, err
}

func decodeUsage(d *jx.Decoder) (usageBody, error) {
	var b usageBody
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "saleId":
			b.SaleID, err = d.Str()
		case "customerId":
			b.CustomerID, err = decodeOptString(d)
		case "discountAmount":
			b.Amount, err = decodeDecimal(d)
		case "orderTotal":
			b.OrderTotal, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, string(key))
	})
	return b, err
}

func decodeSaleUsage(d *jx.Decoder) (saleUsageBody, error) {
	var b saleUsageBody
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "customerId":
			v, err := decodeOptString(d)
			b.CustomerID = v
			return err
		case "orderTotal":
			v, err := decodeDecimal(d)
			b.OrderTotal = v
			return errors.Wrap(err, "orderTotal")
		case "appliedDiscounts":
			return d.Arr(func(d *jx.Decoder) error {
				var a discount.AppliedDiscount
				err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					var err error
					switch string(key) {
					case "discountId":
						a.RuleID, err = d.Str()
					case "discountAmount":
						a.Amount, err = decodeDecimal(d)
					default:
						err = d.Skip()
					}
					return err
				})
				b.Applied = append(b.Applied, a)
				return errors.Wrap(err, "applied discount")
			})
		default:
			return d.Skip()
		}
	})
	return b, err
}

func money(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.StringFixed(2)))
}

func strs(e *jx.Encoder, v []string) {
	e.ArrStart()
	for _, s := range v {
		e.Str(s)
	}
	e.ArrEnd()
}

func encodeValidation(e *jx.Encoder, v discount.ValidationResult) {
	e.ObjStart()
	e.FieldStart("valid")
	e.Bool(v.Valid)
	e.FieldStart("errors")
	strs(e, v.Errors)
	e.FieldStart("warnings")
	strs(e, v.Warnings)
	if v.MaxDiscountAmount != nil {
		e.FieldStart("maxDiscountAmount")
		money(e, *v.MaxDiscountAmount)
	}
	e.ObjEnd()
}

func encodeResult(e *jx.Encoder, r discount.CalculationResult) {
	e.ObjStart()
	e.FieldStart("originalAmount")
	money(e, r.OriginalAmount)
	e.FieldStart("discountAmount")
	money(e, r.DiscountAmount)
	e.FieldStart("finalAmount")
	money(e, r.FinalAmount)
	e.FieldStart("savings")
	money(e, r.Savings)
	e.FieldStart("appliedDiscounts")
	e.ArrStart()
	for _, a := range r.AppliedDiscounts {
		e.ObjStart()
		e.FieldStart("discountId")
		e.Str(a.RuleID)
		e.FieldStart("name")
		e.Str(a.Name)
		e.FieldStart("discountType")
		e.Str(string(a.DiscountType))
		e.FieldStart("discountValue")
		e.Num(jx.Num(a.DiscountValue.String()))
		e.FieldStart("discountAmount")
		money(e, a.Amount)
		e.FieldStart("appliesTo")
		e.Str(string(a.AppliesTo))
		e.FieldStart("itemIds")
		strs(e, a.ItemIDs)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func optMoney(e *jx.Encoder, name string, v *decimal.Decimal) {
	e.FieldStart(name)
	if v == nil {
		e.Null()
		return
	}
	money(e, *v)
}

func optInt(e *jx.Encoder, name string, v *int) {
	e.FieldStart(name)
	if v == nil {
		e.Null()
		return
	}
	e.Int(*v)
}

func optTime(e *jx.Encoder, name string, v *time.Time) {
	e.FieldStart(name)
	if v == nil {
		e.Null()
		return
	}
	e.Str(v.UTC().Format(time.RFC3339))
}

func encodeRule(e *jx.Encoder, r *discount.Rule) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(r.ID)
	e.FieldStart("companyId")
	e.Str(r.CompanyID)
	e.FieldStart("branchId")
	if r.BranchID == "" {
		e.Null()
	} else {
		e.Str(r.BranchID)
	}
	e.FieldStart("name")
	e.Str(r.Name)
	e.FieldStart("nameLocal")
	e.Str(r.NameLocal)
	e.FieldStart("description")
	e.Str(r.Description)

	e.FieldStart("discountType")
	e.Str(string(r.DiscountType))
	e.FieldStart("discountValue")
	e.Num(jx.Num(r.DiscountValue.String()))
	e.FieldStart("appliesTo")
	e.Str(string(r.AppliesTo))
	e.FieldStart("productIds")
	strs(e, r.ProductIDs)
	e.FieldStart("categoryIds")
	strs(e, r.CategoryIDs)

	optMoney(e, "minimumOrderAmount", r.MinimumOrderAmount)
	optInt(e, "minimumQuantity", r.MinimumQuantity)
	optMoney(e, "maximumDiscountAmount", r.MaximumDiscountAmount)

	optTime(e, "startDate", r.StartDate)
	optTime(e, "endDate", r.EndDate)
	e.FieldStart("validDays")
	e.ArrStart()
	for _, day := range r.ValidDays {
		e.Int(int(day))
	}
	e.ArrEnd()
	e.FieldStart("validHours")
	if r.ValidHours == nil {
		e.Null()
	} else {
		e.ObjStart()
		e.FieldStart("start")
		e.Str(r.ValidHours.Start)
		e.FieldStart("end")
		e.Str(r.ValidHours.End)
		e.ObjEnd()
	}

	e.FieldStart("usageLimit")
	e.Str(string(r.UsageLimit))
	optInt(e, "maxUses", r.MaxUses)
	optInt(e, "maxUsesPerCustomer", r.MaxUsesPerCustomer)
	e.FieldStart("currentUses")
	e.Int(r.CurrentUses)
	optTime(e, "lastUsedAt", r.LastUsedAt)

	e.FieldStart("allowedCustomerIds")
	strs(e, r.AllowedCustomerIDs)
	e.FieldStart("excludedCustomerIds")
	strs(e, r.ExcludedCustomerIDs)
	e.FieldStart("canCombineWithOthers")
	e.Bool(r.CanCombineWithOthers)
	e.FieldStart("excludedDiscountIds")
	strs(e, r.ExcludedDiscountIDs)

	e.FieldStart("isActive")
	e.Bool(r.IsActive)
	e.FieldStart("requiresManagerApproval")
	e.Bool(r.RequiresManagerApproval)
	e.FieldStart("createdBy")
	e.Str(r.CreatedBy)
	optTime(e, "createdAt", &r.CreatedAt)
	optTime(e, "updatedAt", &r.UpdatedAt)
	e.ObjEnd()
}

func encodeUsage(e *jx.Encoder, rec discount.UsageRecord) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(rec.ID)
	e.FieldStart("discountId")
	e.Str(rec.RuleID)
	e.FieldStart("saleId")
	e.Str(rec.SaleID)
	e.FieldStart("customerId")
	if rec.CustomerID == "" {
		e.Null()
	} else {
		e.Str(rec.CustomerID)
	}
	e.FieldStart("discountAmount")
	money(e, rec.Amount)
	e.FieldStart("orderTotal")
	money(e, rec.OrderTotal)
	optTime(e, "usedAt", &rec.UsedAt)
	e.ObjEnd()
}

func encodeStats(e *jx.Encoder, st discount.Stats) {
	e.ObjStart()
	e.FieldStart("discountId")
	e.Str(st.RuleID)
	e.FieldStart("name")
	e.Str(st.Name)
	e.FieldStart("currentUses")
	e.Int(st.CurrentUses)
	e.FieldStart("totalUses")
	e.Int(st.TotalUses)
	e.FieldStart("totalSavings")
	money(e, st.TotalSavings)
	e.FieldStart("averageSavings")
	money(e, st.AverageSavings)
	e.FieldStart("averageOrderValue")
	money(e, st.AverageOrderValue)
	e.FieldStart("conversionRate")
	money(e, st.ConversionRate)

	e.FieldStart("topCustomers")
	e.ArrStart()
	for _, c := range st.TopCustomers {
		e.ObjStart()
		e.FieldStart("customerId")
		e.Str(c.CustomerID)
		e.FieldStart("uses")
		e.Int(c.Uses)
		e.FieldStart("savings")
		money(e, c.Savings)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("usageByDate")
	e.ArrStart()
	for _, day := range st.UsageByDate {
		e.ObjStart()
		e.FieldStart("date")
		e.Str(day.Date)
		e.FieldStart("uses")
		e.Int(day.Uses)
		e.FieldStart("savings")
		money(e, day.Savings)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}
