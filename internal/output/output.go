// Package output renders generated patients into the requested artifact
// formats and bundles them into a single archive (SPEC_FULL §4.7), adapting
// aegis's internal/backup/manager.go createArchive step from tar.gz to zip
// per the zip requirement in SPEC_FULL §6.
package output

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/banton/medical-patients-sub003/internal/apierror"
	"github.com/banton/medical-patients-sub003/pkg/models"
)

var csvHeader = []string{
	"id", "nationality", "triage", "injury_type", "final_status", "last_facility",
	"injury_timestamp", "hours_to_outcome", "facilities_visited", "total_timeline_events",
}

// BuildFiles renders patients into one file per requested format and
// returns them keyed by filename, ready for BuildArchive.
func BuildFiles(patients []models.Patient, formats []models.OutputFormat) (map[string][]byte, error) {
	files := make(map[string][]byte, len(formats))
	for _, f := range formats {
		switch f {
		case models.FormatJSON:
			b, err := WriteJSON(patients)
			if err != nil {
				return nil, err
			}
			files["patients.json"] = b
		case models.FormatCSV:
			b, err := WriteCSV(patients)
			if err != nil {
				return nil, err
			}
			files["patients.csv"] = b
		case models.FormatXML:
			b, err := WriteXML(patients)
			if err != nil {
				return nil, err
			}
			files["patients.xml"] = b
		case models.FormatFHIR:
			b, err := WriteFHIRBundle(patients)
			if err != nil {
				return nil, err
			}
			files["patients_fhir.json"] = b
		case models.FormatXLSX:
			b, err := WriteXLSXLike(patients)
			if err != nil {
				return nil, err
			}
			files["patients.xlsx"] = b
		default:
			return nil, apierror.Validation("output: unknown output format %q", f)
		}
	}
	return files, nil
}

// StreamWriter incrementally renders patients into one artifact file as
// batches arrive, bounding peak memory to batch_size rather than the whole
// job (SPEC_FULL §5). Callers must call Close exactly once, after the last
// WriteBatch, to finalize the artifact.
type StreamWriter interface {
	WriteBatch(patients []models.Patient) error
	Close() error
}

// Finalizer is implemented by StreamWriters whose container format (xlsx's
// zip) cannot be written incrementally to the target io.Writer and must
// instead be assembled whole after the last WriteBatch/Close. Callers write
// the returned bytes to the artifact's final destination themselves.
type Finalizer interface {
	Bytes() ([]byte, error)
}

// ArtifactName returns the conventional filename for format, matching
// BuildFiles' naming.
func ArtifactName(format models.OutputFormat) (string, error) {
	switch format {
	case models.FormatJSON:
		return "patients.json", nil
	case models.FormatCSV:
		return "patients.csv", nil
	case models.FormatXML:
		return "patients.xml", nil
	case models.FormatFHIR:
		return "patients_fhir.json", nil
	case models.FormatXLSX:
		return "patients.xlsx", nil
	default:
		return "", apierror.Validation("output: unknown output format %q", format)
	}
}

// NewStreamWriter opens an incremental writer for format over w. It is the
// batched counterpart of the corresponding Write* function: the job
// controller calls WriteBatch once per simulator batch instead of holding
// every patient in memory before rendering.
func NewStreamWriter(format models.OutputFormat, w io.Writer) (StreamWriter, error) {
	switch format {
	case models.FormatJSON:
		return &jsonStreamWriter{w: w}, nil
	case models.FormatCSV:
		return &csvStreamWriter{w: csv.NewWriter(w)}, nil
	case models.FormatXML:
		return &xmlStreamWriter{w: w}, nil
	case models.FormatFHIR:
		return &fhirStreamWriter{w: w}, nil
	case models.FormatXLSX:
		return &xlsxStreamWriter{}, nil
	default:
		return nil, apierror.Validation("output: unknown output format %q", format)
	}
}

type jsonStreamWriter struct {
	w io.Writer
	n int
}

func (s *jsonStreamWriter) WriteBatch(patients []models.Patient) error {
	for _, p := range patients {
		sep := ",\n  "
		if s.n == 0 {
			sep = "[\n  "
		}
		if _, err := io.WriteString(s.w, sep); err != nil {
			return apierror.Generation("output: write json patient %d: %v", p.ID, err)
		}
		b, err := json.MarshalIndent(p, "  ", "  ")
		if err != nil {
			return apierror.Generation("output: marshal patient %d json: %v", p.ID, err)
		}
		if _, err := s.w.Write(b); err != nil {
			return apierror.Generation("output: write json patient %d: %v", p.ID, err)
		}
		s.n++
	}
	return nil
}

func (s *jsonStreamWriter) Close() error {
	if s.n == 0 {
		_, err := io.WriteString(s.w, "[]")
		return err
	}
	_, err := io.WriteString(s.w, "\n]")
	return err
}

type csvStreamWriter struct {
	w         *csv.Writer
	wroteHead bool
}

func (s *csvStreamWriter) WriteBatch(patients []models.Patient) error {
	if !s.wroteHead {
		if err := s.w.Write(csvHeader); err != nil {
			return apierror.Generation("output: write csv header: %v", err)
		}
		s.wroteHead = true
	}
	for _, p := range patients {
		if err := s.w.Write(csvRow(p)); err != nil {
			return apierror.Generation("output: write csv row for patient %d: %v", p.ID, err)
		}
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *csvStreamWriter) Close() error {
	if !s.wroteHead {
		if err := s.w.Write(csvHeader); err != nil {
			return apierror.Generation("output: write csv header: %v", err)
		}
	}
	s.w.Flush()
	return s.w.Error()
}

type xmlStreamWriter struct {
	w    io.Writer
	open bool
}

func (s *xmlStreamWriter) WriteBatch(patients []models.Patient) error {
	if !s.open {
		if _, err := io.WriteString(s.w, xml.Header+"<Patients>"); err != nil {
			return apierror.Generation("output: write xml header: %v", err)
		}
		s.open = true
	}
	for _, p := range patients {
		doc := xmlPatient{
			ID:           p.ID,
			Nationality:  p.Nationality,
			Triage:       string(p.Triage),
			InjuryType:   string(p.InjuryType),
			FinalStatus:  string(p.FinalStatus),
			LastFacility: string(p.LastFacility),
		}
		b, err := xml.Marshal(doc)
		if err != nil {
			return apierror.Generation("output: marshal patient %d xml: %v", p.ID, err)
		}
		if _, err := s.w.Write(b); err != nil {
			return apierror.Generation("output: write xml patient %d: %v", p.ID, err)
		}
	}
	return nil
}

func (s *xmlStreamWriter) Close() error {
	if !s.open {
		if _, err := io.WriteString(s.w, xml.Header+"<Patients>"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(s.w, "</Patients>")
	return err
}

type fhirStreamWriter struct {
	w io.Writer
	n int
}

func (s *fhirStreamWriter) WriteBatch(patients []models.Patient) error {
	for _, p := range patients {
		sep := ",\n    "
		if s.n == 0 {
			sep = `{"resourceType":"Bundle","type":"collection","entry":[` + "\n    "
		}
		if _, err := io.WriteString(s.w, sep); err != nil {
			return apierror.Generation("output: write fhir entry %d: %v", p.ID, err)
		}
		entry := fhirEntry{Resource: fhirPatient{
			ResourceType: "Patient",
			ID:           strconv.Itoa(p.ID),
			Gender:       p.Gender,
			Extension: []fhirExtension{
				{URL: "urn:medgen:triage", ValueString: string(p.Triage)},
				{URL: "urn:medgen:injury-type", ValueString: string(p.InjuryType)},
				{URL: "urn:medgen:final-status", ValueString: string(p.FinalStatus)},
			},
		}}
		b, err := json.MarshalIndent(entry, "    ", "  ")
		if err != nil {
			return apierror.Generation("output: marshal fhir entry %d: %v", p.ID, err)
		}
		if _, err := s.w.Write(b); err != nil {
			return apierror.Generation("output: write fhir entry %d: %v", p.ID, err)
		}
		s.n++
	}
	return nil
}

func (s *fhirStreamWriter) Close() error {
	if s.n == 0 {
		_, err := io.WriteString(s.w, `{"resourceType":"Bundle","type":"collection","entry":[]}`)
		return err
	}
	_, err := io.WriteString(s.w, "\n  ]}")
	return err
}

// xlsxStreamWriter accumulates row markup as batches arrive instead of
// holding the full []models.Patient slice: the OOXML zip still has to be
// assembled in one shot at Close (archive/zip needs the complete part
// bytes), but the buffered state is formatted row text, an order of
// magnitude smaller than the simulated Patient structs it was built from.
type xlsxStreamWriter struct {
	rows     bytes.Buffer
	rowCount int
}

func (s *xlsxStreamWriter) WriteBatch(patients []models.Patient) error {
	if s.rowCount == 0 {
		s.rows.WriteString(xlsxRow(0, csvHeader))
	}
	for _, p := range patients {
		s.rowCount++
		s.rows.WriteString(xlsxRow(s.rowCount, csvRow(p)))
	}
	return nil
}

func (s *xlsxStreamWriter) Close() error {
	return nil
}

// Bytes assembles the finished XLSX-like zip from accumulated rows. Call
// only after the last WriteBatch/Close.
func (s *xlsxStreamWriter) Bytes() ([]byte, error) {
	if s.rowCount == 0 {
		s.rows.WriteString(xlsxRow(0, csvHeader))
	}
	var sheet bytes.Buffer
	sheet.WriteString(xml.Header)
	sheet.WriteString(`<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData>`)
	sheet.Write(s.rows.Bytes())
	sheet.WriteString(`</sheetData></worksheet>`)
	return assembleXLSXZip(sheet.String())
}

// WriteJSON renders the full patient record set as indented JSON.
func WriteJSON(patients []models.Patient) ([]byte, error) {
	b, err := json.MarshalIndent(patients, "", "  ")
	if err != nil {
		return nil, apierror.Generation("output: marshal patients json: %v", err)
	}
	return b, nil
}

// WriteCSV renders the fixed-column patient summary per SPEC_FULL §6.
func WriteCSV(patients []models.Patient) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, apierror.Generation("output: write csv header: %v", err)
	}
	for _, p := range patients {
		if err := w.Write(csvRow(p)); err != nil {
			return nil, apierror.Generation("output: write csv row for patient %d: %v", p.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, apierror.Generation("output: flush csv: %v", err)
	}
	return buf.Bytes(), nil
}

func csvRow(p models.Patient) []string {
	hoursToOutcome := 0.0
	if len(p.Timeline) > 0 {
		hoursToOutcome = p.Timeline[len(p.Timeline)-1].HoursSinceInjury
	}

	visited := make([]string, 0, len(p.Timeline))
	seen := make(map[models.Facility]bool, len(p.Timeline))
	for _, ev := range p.Timeline {
		if ev.EventType != models.EventArrival || seen[ev.Facility] {
			continue
		}
		seen[ev.Facility] = true
		visited = append(visited, string(ev.Facility))
	}

	return []string{
		strconv.Itoa(p.ID),
		p.Nationality,
		string(p.Triage),
		string(p.InjuryType),
		string(p.FinalStatus),
		string(p.LastFacility),
		p.InjuryTimestamp.UTC().Format("2006-01-02T15:04:05Z"),
		strconv.FormatFloat(hoursToOutcome, 'f', 2, 64),
		strings.Join(visited, ";"),
		strconv.Itoa(len(p.Timeline)),
	}
}

type xmlPatients struct {
	XMLName xml.Name    `xml:"Patients"`
	Patient []xmlPatient `xml:"Patient"`
}

type xmlPatient struct {
	ID           int    `xml:"id,attr"`
	Nationality  string `xml:"nationality"`
	Triage       string `xml:"triage"`
	InjuryType   string `xml:"injuryType"`
	FinalStatus  string `xml:"finalStatus"`
	LastFacility string `xml:"lastFacility"`
}

// WriteXML renders a minimal XML projection of the patient set using the
// standard library encoder (no XML library appears anywhere in the
// retrieved pack to ground a third-party choice against).
func WriteXML(patients []models.Patient) ([]byte, error) {
	doc := xmlPatients{Patient: make([]xmlPatient, len(patients))}
	for i, p := range patients {
		doc.Patient[i] = xmlPatient{
			ID:           p.ID,
			Nationality:  p.Nationality,
			Triage:       string(p.Triage),
			InjuryType:   string(p.InjuryType),
			FinalStatus:  string(p.FinalStatus),
			LastFacility: string(p.LastFacility),
		}
	}
	b, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, apierror.Generation("output: marshal patients xml: %v", err)
	}
	return append([]byte(xml.Header), b...), nil
}

// fhirBundle and fhirEntry are a deliberately minimal subset of the FHIR
// Bundle/Patient resource shape: just enough structure to be a recognizable
// FHIR transaction bundle without depending on an unwitnessed FHIR library
// (none appears in the retrieved pack).
type fhirBundle struct {
	ResourceType string      `json:"resourceType"`
	Type         string      `json:"type"`
	Entry        []fhirEntry `json:"entry"`
}

type fhirEntry struct {
	Resource fhirPatient `json:"resource"`
}

type fhirPatient struct {
	ResourceType string          `json:"resourceType"`
	ID           string          `json:"id"`
	Gender       string          `json:"gender,omitempty"`
	Extension    []fhirExtension `json:"extension,omitempty"`
}

type fhirExtension struct {
	URL         string `json:"url"`
	ValueString string `json:"valueString"`
}

// WriteFHIRBundle renders patients as a FHIR transaction Bundle of minimal
// Patient resources, carrying triage/injury/outcome as extensions.
func WriteFHIRBundle(patients []models.Patient) ([]byte, error) {
	bundle := fhirBundle{
		ResourceType: "Bundle",
		Type:         "collection",
		Entry:        make([]fhirEntry, len(patients)),
	}
	for i, p := range patients {
		bundle.Entry[i] = fhirEntry{Resource: fhirPatient{
			ResourceType: "Patient",
			ID:           strconv.Itoa(p.ID),
			Gender:       p.Gender,
			Extension: []fhirExtension{
				{URL: "urn:medgen:triage", ValueString: string(p.Triage)},
				{URL: "urn:medgen:injury-type", ValueString: string(p.InjuryType)},
				{URL: "urn:medgen:final-status", ValueString: string(p.FinalStatus)},
			},
		}}
	}
	b, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, apierror.Generation("output: marshal fhir bundle: %v", err)
	}
	return b, nil
}

// WriteXLSXLike renders a single-sheet spreadsheet as the minimal XLSX
// document: a zip of the required OOXML parts, built with archive/zip and
// encoding/xml directly. The only XLSX-capable library referenced anywhere
// in the retrieved pack (tealeg/xlsx) appears as an unused transitive entry
// in a standalone go.mod with no call-site to ground usage against, so this
// writes the OOXML parts by hand from already-justified stdlib packages
// instead of guessing at that library's API.
func WriteXLSXLike(patients []models.Patient) ([]byte, error) {
	var sheet bytes.Buffer
	sheet.WriteString(xml.Header)
	sheet.WriteString(`<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData>`)
	sheet.WriteString(xlsxRow(0, csvHeader))
	for i, p := range patients {
		sheet.WriteString(xlsxRow(i+1, csvRow(p)))
	}
	sheet.WriteString(`</sheetData></worksheet>`)

	return assembleXLSXZip(sheet.String())
}

// assembleXLSXZip wraps a finished worksheet XML part into the minimal
// OOXML zip container, shared by WriteXLSXLike and xlsxStreamWriter.
func assembleXLSXZip(sheetXML string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/xl/workbook.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"/><Override PartName="/xl/worksheets/sheet1.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.worksheet+xml"/></Types>`,
		"_rels/.rels":              `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="xl/workbook.xml"/></Relationships>`,
		"xl/workbook.xml":          `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheets><sheet name="Patients" sheetId="1" r:id="rId1" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"/></sheets></workbook>`,
		"xl/worksheets/sheet1.xml": sheetXML,
	}
	names := make([]string, 0, len(parts))
	for name := range parts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fw, err := zw.Create(name)
		if err != nil {
			return nil, apierror.Generation("output: create xlsx part %q: %v", name, err)
		}
		if _, err := fw.Write([]byte(parts[name])); err != nil {
			return nil, apierror.Generation("output: write xlsx part %q: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, apierror.Generation("output: close xlsx archive: %v", err)
	}
	return buf.Bytes(), nil
}

func xlsxRow(rowIdx int, cells []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<row r="%d">`, rowIdx+1)
	for _, c := range cells {
		b.WriteString(`<c t="inlineStr"><is><t>`)
		xml.EscapeText(&b, []byte(c))
		b.WriteString(`</t></is></c>`)
	}
	b.WriteString(`</row>`)
	return b.String()
}

// BuildArchive zips the named artifact files into job_<jobID>.zip contents,
// written in sorted name order for reproducible byte output.
func BuildArchive(files map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range sortedKeys(files) {
		fw, err := zw.Create(name)
		if err != nil {
			return nil, apierror.Generation("output: create archive entry %q: %v", name, err)
		}
		if _, err := fw.Write(files[name]); err != nil {
			return nil, apierror.Generation("output: write archive entry %q: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, apierror.Generation("output: close archive: %v", err)
	}
	return buf.Bytes(), nil
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ArchiveName returns the conventional output filename for a job.
func ArchiveName(jobID string) string {
	return fmt.Sprintf("job_%s.zip", jobID)
}

// BuildArchiveStream zips the artifact files named in sources (name ->
// on-disk path) into archiveW in sorted name order, copying each file's
// bytes directly from disk rather than holding every rendered artifact in
// memory at once, bounding archive-assembly memory to one copy buffer
// regardless of job size.
func BuildArchiveStream(archiveW io.Writer, sources map[string]string) error {
	zw := zip.NewWriter(archiveW)
	for _, name := range sortedStringKeys(sources) {
		fw, err := zw.Create(name)
		if err != nil {
			return apierror.Generation("output: create archive entry %q: %v", name, err)
		}
		src, err := os.Open(sources[name])
		if err != nil {
			return apierror.Storage("output: open %q for archiving: %v", name, err)
		}
		_, err = io.Copy(fw, src)
		src.Close()
		if err != nil {
			return apierror.Generation("output: copy %q into archive: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return apierror.Generation("output: close archive: %v", err)
	}
	return nil
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
