package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
)

const gaussPage = `<!DOCTYPE html>
<html><body>
<div id="paddingWrapper">
<div id="mainContent">
<h2 style="text-align: center">
    Carl Friedrich   Gauß
</h2>
<p style="text-align: center"><a href="http://www.ams.org/mathscinet">MathSciNet</a></p>
<div style="line-height: 30px; text-align: center">
  <span style="margin-right: 0.5em">Ph.D. <span style="color: #006633">Universität Helmstedt</span> 1799</span>
  <img src="img/flags/Germany.gif" alt="Germany" width="24" height="14" title="Germany" />
</div>
<div style="line-height: 30px">Dissertation: <span id="thesisTitle">Demonstratio nova theorematis</span></div>
<div style="text-align: center">Mathematics Subject Classification: 01—History and biography</div>
<p style="text-align: center">Advisor 1: <a href="id.php?id=18230">Johann Friedrich Pfaff</a><br />
Advisor 2: <a href="id.php?id=18229">Someone Else</a></p>
<table>
<tr><th>Name</th><th>School</th><th>Year</th><th>Descendants</th></tr>
<tr><td><a href="id.php?id=18603">Christian Gerling</a></td><td>Göttingen</td><td>1812</td><td>25</td></tr>
<tr><td><a href="id.php?id=18604">Friedrich Bessel</a></td><td>Göttingen</td><td>1810</td><td>30</td></tr>
<tr><td><a href="id.php?id=18603">Christian Gerling</a></td><td>Göttingen</td><td>1812</td><td>25</td></tr>
</table>
</div>
</div>
</body></html>`

func TestParseFullRecord(t *testing.T) {
	t.Parallel()

	rec, err := New().Parse(18231, []byte(gaussPage))
	require.NoError(t, err)

	n := rec.Node
	assert.Equal(t, 18231, n.ID)
	require.NotNil(t, n.Name)
	assert.Equal(t, "Carl Friedrich Gauß", *n.Name)
	require.NotNil(t, n.School)
	assert.Equal(t, "Universität Helmstedt", *n.School)
	require.NotNil(t, n.Year)
	assert.Equal(t, 1799, *n.Year)
	require.NotNil(t, n.Country)
	assert.Equal(t, "Germany", *n.Country)
	require.NotNil(t, n.Subject)
	assert.Equal(t, "01—History and biography", *n.Subject)

	assert.Equal(t, []genealogy.Edge{
		{AdvisorID: 18230, StudentID: 18231},
		{AdvisorID: 18229, StudentID: 18231},
		{AdvisorID: 18231, StudentID: 18603},
		{AdvisorID: 18231, StudentID: 18604},
	}, rec.Edges)
}

func TestParseSparseRecord(t *testing.T) {
	t.Parallel()

	page := `<html><body><div id="mainContent"><h2>Ada  Person</h2>
<p>Advisor: Unknown</p></div></body></html>`
	rec, err := New().Parse(104, []byte(page))
	require.NoError(t, err)
	require.NotNil(t, rec.Node.Name)
	assert.Equal(t, "Ada Person", *rec.Node.Name)
	assert.Nil(t, rec.Node.School)
	assert.Nil(t, rec.Node.Year)
	assert.Nil(t, rec.Node.Country)
	assert.Nil(t, rec.Node.Subject)
	assert.Empty(t, rec.Edges)
}

func TestParseDegreeWithoutYear(t *testing.T) {
	t.Parallel()

	page := `<html><body><div id="mainContent"><h2>X</h2>
<div><span>Ph.D. <span>Some University</span></span></div></div></body></html>`
	rec, err := New().Parse(1, []byte(page))
	require.NoError(t, err)
	require.NotNil(t, rec.Node.School)
	assert.Equal(t, "Some University", *rec.Node.School)
	assert.Nil(t, rec.Node.Year)
}

func TestParseFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "no main content", body: `<html><body><p>maintenance</p></body></html>`},
		{name: "no name", body: `<html><body><div id="mainContent"><h2>   </h2></div></body></html>`},
		{name: "empty body", body: ``},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New().Parse(5, []byte(tt.body))
			assert.ErrorIs(t, err, genealogy.ErrParse)
		})
	}
}

func TestLinkID(t *testing.T) {
	t.Parallel()

	id, ok := linkID("id.php?id=12540")
	assert.True(t, ok)
	assert.Equal(t, 12540, id)

	_, ok = linkID("search.php")
	assert.False(t, ok)
}
