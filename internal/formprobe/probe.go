// Package formprobe inspects PDF bytes locally for interactive form
// structure. Its findings are advisory: the oracle makes the call.
package formprobe

import (
	"bytes"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rotisserie/eris"
)

// maxFieldDepth bounds the field tree walk against reference cycles.
const maxFieldDepth = 32

// Report summarizes the form structure found in a document.
type Report struct {
	Pages int `json:"pages"`
	// AcroFormFields counts terminal AcroForm fields.
	AcroFormFields int  `json:"acroform_fields"`
	HasXFA         bool `json:"has_xfa"`
}

// Interactive reports whether the document declares any form widgets.
func (r *Report) Interactive() bool {
	return r.AcroFormFields > 0 || r.HasXFA
}

// Probe reads data with pdfcpu in relaxed mode and counts its form fields.
func Probe(data []byte) (*Report, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, eris.Wrap(err, "formprobe: read context")
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, eris.Wrap(err, "formprobe: page count")
	}

	rep := &Report{Pages: ctx.PageCount}

	root, err := ctx.Catalog()
	if err != nil {
		return nil, eris.Wrap(err, "formprobe: catalog")
	}

	acroObj, found := root.Find("AcroForm")
	if !found {
		return rep, nil
	}
	acro, err := ctx.DereferenceDict(acroObj)
	if err != nil {
		return nil, eris.Wrap(err, "formprobe: dereference AcroForm")
	}
	if acro == nil {
		return rep, nil
	}

	if _, ok := acro.Find("XFA"); ok {
		rep.HasXFA = true
	}

	fieldsObj, found := acro.Find("Fields")
	if !found {
		return rep, nil
	}
	fields, err := ctx.DereferenceArray(fieldsObj)
	if err != nil {
		return nil, eris.Wrap(err, "formprobe: dereference Fields")
	}

	for _, f := range fields {
		rep.AcroFormFields += countTerminal(ctx, f, 0)
	}
	return rep, nil
}

// countTerminal counts the terminal fields below obj. A field whose kids are
// only widget annotations (no /T) is itself terminal.
func countTerminal(ctx *model.Context, obj types.Object, depth int) int {
	if depth > maxFieldDepth {
		return 0
	}
	d, err := ctx.DereferenceDict(obj)
	if err != nil || d == nil {
		return 0
	}

	kidsObj, ok := d.Find("Kids")
	if !ok {
		return 1
	}
	kids, err := ctx.DereferenceArray(kidsObj)
	if err != nil || len(kids) == 0 {
		return 1
	}

	n := 0
	fieldKids := false
	for _, k := range kids {
		kd, err := ctx.DereferenceDict(k)
		if err != nil || kd == nil {
			continue
		}
		if _, named := kd.Find("T"); named {
			fieldKids = true
			n += countTerminal(ctx, k, depth+1)
		}
	}
	if !fieldKids {
		return 1
	}
	return n
}
