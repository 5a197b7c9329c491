package validate_test

import (
	"testing"

	"github.com/hybridledger/dlt/business/sys/validate"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

type submit struct {
	To     string `json:"to" validate:"required,address"`
	Amount string `json:"amount" validate:"required,amount"`
}

func Test_Check(t *testing.T) {
	type table struct {
		name   string
		val    submit
		fields []string
	}

	tt := []table{
		{name: "valid", val: submit{To: "0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76", Amount: "12.5"}},
		{name: "bad-address", val: submit{To: "0x1234", Amount: "1"}, fields: []string{"to"}},
		{name: "bad-amount", val: submit{To: "0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76", Amount: "1.123456789"}, fields: []string{"amount"}},
		{name: "missing", val: submit{}, fields: []string{"to", "amount"}},
	}

	t.Log("Given the need to validate request payloads.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen checking a %s payload.", testID, tst.name)
				{
					err := validate.Check(tst.val)

					if len(tst.fields) == 0 {
						if err != nil {
							t.Fatalf("\t%s\tTest %d:\tShould pass validation: %s", failed, testID, err)
						}
						t.Logf("\t%s\tTest %d:\tShould pass validation.", success, testID)
						return
					}

					if !validate.IsFieldErrors(err) {
						t.Fatalf("\t%s\tTest %d:\tShould get field errors, got %v.", failed, testID, err)
					}

					fields := validate.GetFieldErrors(err).Fields()
					for _, name := range tst.fields {
						if _, exists := fields[name]; !exists {
							t.Fatalf("\t%s\tTest %d:\tShould report field %q: %v", failed, testID, name, fields)
						}
					}
					t.Logf("\t%s\tTest %d:\tShould report the failing fields.", success, testID)
				}
			}

			t.Run(tst.name, f)
		}
	}
}
