package session

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/product"
)

// encodeLines writes the cart as an array of {id, name, price, quantity}.
// Name and price are informational; decodeLines ignores them so the catalog
// stays authoritative.
func encodeLines(e *jx.Encoder, c *cart.Cart, catalog product.Finder) {
	e.ArrStart()
	for _, l := range c.Snapshot() {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(l.ProductID)
		if p, ok := catalog.Find(l.ProductID); ok {
			e.FieldStart("name")
			e.Str(p.Name)
			e.FieldStart("price")
			e.Str(cart.FormatPrice(p.Price))
		}
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func decodeLines(d *jx.Decoder) (*cart.Cart, error) {
	var lines []cart.Line
	err := d.Arr(func(d *jx.Decoder) error {
		var l cart.Line
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "id":
				v, err := d.Int64()
				l.ProductID = v
				return err
			case "quantity":
				v, err := d.Int()
				l.Quantity = v
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		if l.ProductID == 0 {
			return errors.New("cart line without id")
		}
		lines = append(lines, l)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode cart")
	}
	return cart.New(lines...), nil
}

// MarshalCart encodes the cart as a standalone JSON array.
func MarshalCart(c *cart.Cart, catalog product.Finder) []byte {
	var e jx.Encoder
	encodeLines(&e, c, catalog)
	return e.Bytes()
}

// UnmarshalCart decodes a JSON array produced by MarshalCart.
func UnmarshalCart(data []byte) (*cart.Cart, error) {
	return decodeLines(jx.DecodeBytes(data))
}

// payload is the signed cookie body: the session id and, for stores that keep
// state client-side, the cart itself.
type payload struct {
	ID   string
	Cart *cart.Cart
}

func marshalPayload(p payload, catalog product.Finder) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("sid")
	e.Str(p.ID)
	if p.Cart != nil {
		e.FieldStart("cart")
		encodeLines(&e, p.Cart, catalog)
	}
	e.ObjEnd()
	return e.Bytes()
}

func unmarshalPayload(data []byte) (payload, error) {
	var p payload
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "sid":
			v, err := d.Str()
			p.ID = v
			return err
		case "cart":
			c, err := decodeLines(d)
			p.Cart = c
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return payload{}, errors.Wrap(err, "decode session payload")
	}
	if p.ID == "" {
		return payload{}, errors.New("session payload without id")
	}
	return p, nil
}
