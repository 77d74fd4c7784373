package session

import "testing"

const sampleResult = `
<div>
<table>
<tr><th>Sl No</th><th>Name</th><th>Guardian</th><th>House No</th><th>Gender / Age</th><th>ID</th></tr>
<tr><td colspan="6">WARD: 003 EXAMPLE WARD &nbsp; POLLING STATION: 12 Example School</td></tr>
<tr><td>1</td><td>ANITHA K</td><td>KRISHNAN</td><td>003/12</td><td>F / 44</td><td>SEC001</td></tr>
<tr><td>2</td><td>BABU M</td><td>MADHAVAN</td><td>003/13</td><td>M / 51</td><td>SEC002</td></tr>
<tr><td>footer</td><td></td></tr>
</table>
</div>`

func TestParseResultRows(t *testing.T) {
	rows, err := parseResultRows(sampleResult)
	if err != nil {
		t.Fatalf("parseResultRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (header, banner and short rows skipped)", len(rows))
	}
	if rows[0][1] != "ANITHA K" || rows[1][1] != "BABU M" {
		t.Errorf("rows out of order or mangled: %v", rows)
	}
	if rows[0][4] != "F / 44" {
		t.Errorf("cell text not normalised: %q", rows[0][4])
	}
}

func TestParseResultRowsWhitespace(t *testing.T) {
	rows, err := parseResultRows(`<table><tr><td> 1 </td><td>A	 B</td><td>C
D</td></tr></table>`)
	if err != nil {
		t.Fatalf("parseResultRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0][1] != "A B" || rows[0][2] != "C D" {
		t.Errorf("whitespace not collapsed: %v", rows[0])
	}
}

func TestClassifyResult(t *testing.T) {
	cases := []struct {
		name string
		html string
		want PageKind
	}{
		{"invalid captcha", `<div><span class="err">Invalid Captcha entered</span></div>`, KindError},
		{"data table", sampleResult, KindResults},
		{"no data", `<div>No data available for this selection</div>`, KindResults},
		{"not found", `<div>Records not found</div>`, KindResults},
		{"still empty", `<div></div>`, KindForm},
		{"loading text", `<div>Please wait</div>`, KindForm},
	}
	for _, c := range cases {
		if got := classifyResult(c.html); got != c.want {
			t.Errorf("%s: classifyResult = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestHasNextLink(t *testing.T) {
	sel := ".voters_list_search_result a.next"

	ok, err := hasNextLink(`<div><a class="next" href="#">Next</a></div>`, sel)
	if err != nil || !ok {
		t.Errorf("hasNextLink(active) = %v, %v; want true", ok, err)
	}

	ok, err = hasNextLink(`<div><a class="next disabled" href="#">Next</a></div>`, sel)
	if err != nil || ok {
		t.Errorf("hasNextLink(disabled) = %v, %v; want false", ok, err)
	}

	ok, err = hasNextLink(`<div><table><tr><td>1</td><td>2</td><td>3</td></tr></table></div>`, sel)
	if err != nil || ok {
		t.Errorf("hasNextLink(no link) = %v, %v; want false", ok, err)
	}
}
