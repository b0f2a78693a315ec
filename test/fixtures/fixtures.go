package fixtures

import (
	"fmt"
	"strings"

	"github.com/territorios-app/territorios/internal/model"
)

const (
	AdminPhone      = "525500000001"
	SuperAdminUID   = "uid-super"
	SuperAdminPhone = "525599999999"
)

// ImportText renders n comma separated rows with distinct numbers, preceded by
// a header row.
func ImportText(n int) string {
	var b strings.Builder
	b.WriteString("Nombre,Direccion,Telefono\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Owner %d,Calle %d #%d,55 1000 %04d\n", i, i, i+1, i)
	}
	return b.String()
}

// ImportTextWithDuplicates renders n rows where every second number repeats
// the previous one.
func ImportTextWithDuplicates(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Owner %d,Calle %d,55 2000 %04d\n", i, i, i/2)
	}
	return b.String()
}

func NewPhoneCreateRequest(number string) model.PhoneCreateRequest {
	return model.PhoneCreateRequest{
		Owner:   "Owner " + number,
		Address: "Calle " + number,
		Number:  number,
	}
}

func NewAssignRequest(territory int, conductor string, blocks ...int) model.AssignRequest {
	return model.AssignRequest{
		Territory:      territory,
		BlockNumbers:   blocks,
		Conductor:      conductor,
		AssignedAtDate: "2024-03-02",
		Shift:          "morning",
	}
}

func NewReturnRequest(index int) model.ReturnRequest {
	return model.ReturnRequest{
		Index:          index,
		ReturnedAtDate: "2024-03-09",
	}
}

func NewUserCreateRequest(phone string, role model.Role) model.UserCreateRequest {
	return model.UserCreateRequest{
		PhoneNumber: phone,
		FullName:    "User " + phone,
		Role:        role,
	}
}
