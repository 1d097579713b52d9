package output

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/banton/medical-patients-sub003/pkg/models"
)

func samplePatients() []models.Patient {
	return []models.Patient{
		{
			ID: 1, Nationality: "USA", Triage: models.TriageT2, InjuryType: models.InjuryBattle,
			FinalStatus: models.StatusRTD, LastFacility: models.FacilityRole2,
			InjuryTimestamp: time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC),
			Timeline: []models.TimelineEvent{
				{EventType: models.EventArrival, Facility: models.FacilityPOI, HoursSinceInjury: 0},
				{EventType: models.EventArrival, Facility: models.FacilityRole1, HoursSinceInjury: 1.5},
				{EventType: models.EventArrival, Facility: models.FacilityRole2, HoursSinceInjury: 3.0},
				{EventType: models.EventRTD, Facility: models.FacilityRole2, HoursSinceInjury: 4.2},
			},
		},
		{
			ID: 2, Nationality: "GBR", Triage: models.TriageT1, InjuryType: models.InjuryNonBattle,
			FinalStatus: models.StatusKIA, LastFacility: models.FacilityPOI,
			InjuryTimestamp: time.Date(2026, 1, 1, 7, 0, 0, 0, time.UTC),
			Timeline: []models.TimelineEvent{
				{EventType: models.EventArrival, Facility: models.FacilityPOI, HoursSinceInjury: 0},
				{EventType: models.EventKIA, Facility: models.FacilityPOI, HoursSinceInjury: 0.3},
			},
		},
	}
}

func TestWriteJSON_RoundTrips(t *testing.T) {
	b, err := WriteJSON(samplePatients())
	if err != nil {
		t.Fatal(err)
	}
	var out []models.Patient
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 patients, got %d", len(out))
	}
}

func TestWriteCSV_HasExpectedHeaderAndRows(t *testing.T) {
	b, err := WriteCSV(samplePatients())
	if err != nil {
		t.Fatal(err)
	}
	r := csv.NewReader(bytes.NewReader(b))
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	for i, col := range csvHeader {
		if rows[0][i] != col {
			t.Errorf("header[%d]: expected %q, got %q", i, col, rows[0][i])
		}
	}
	if rows[1][4] != "RTD" || rows[1][8] != "POI;Role1;Role2" {
		t.Errorf("unexpected row for patient 1: %v", rows[1])
	}
}

func TestBuildFiles_UnknownFormatErrors(t *testing.T) {
	if _, err := BuildFiles(samplePatients(), []models.OutputFormat{models.OutputFormat("pdf")}); err == nil {
		t.Fatal("expected error for unknown output format")
	}
}

func TestBuildFiles_ProducesRequestedFiles(t *testing.T) {
	files, err := BuildFiles(samplePatients(), []models.OutputFormat{models.FormatJSON, models.FormatCSV})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := files["patients.json"]; !ok {
		t.Error("expected patients.json")
	}
	if _, ok := files["patients.csv"]; !ok {
		t.Error("expected patients.csv")
	}
}

func TestBuildArchive_ContainsAllFiles(t *testing.T) {
	files := map[string][]byte{"patients.json": []byte("{}"), "patients.csv": []byte("a,b\n")}
	archive, err := BuildArchive(files)
	if err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("not a valid zip: %v", err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["patients.json"] || !names["patients.csv"] {
		t.Errorf("expected both files in archive, got %v", names)
	}
}

func TestWriteXML_ContainsPatientElements(t *testing.T) {
	b, err := WriteXML(samplePatients())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "<Patient") {
		t.Errorf("expected Patient elements in xml output, got %s", b)
	}
}

func TestWriteFHIRBundle_IsValidJSONBundle(t *testing.T) {
	b, err := WriteFHIRBundle(samplePatients())
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["resourceType"] != "Bundle" {
		t.Errorf("expected resourceType Bundle, got %v", doc["resourceType"])
	}
}

func TestWriteXLSXLike_IsValidZip(t *testing.T) {
	b, err := WriteXLSXLike(samplePatients())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := zip.NewReader(bytes.NewReader(b), int64(len(b))); err != nil {
		t.Fatalf("expected a valid zip/xlsx container: %v", err)
	}
}

func TestEncryptDecrypt_RoundTrips(t *testing.T) {
	plaintext := []byte("top secret patient roster")
	ciphertext, err := Encrypt(plaintext, "correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("expected ciphertext to differ from plaintext")
	}
	decrypted, err := Decrypt(ciphertext, "correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("expected round-trip to recover plaintext, got %q", decrypted)
	}
}

func TestDecrypt_WrongPasswordProducesGarbage(t *testing.T) {
	plaintext := []byte("top secret patient roster")
	ciphertext, err := Encrypt(plaintext, "right-password")
	if err != nil {
		t.Fatal(err)
	}
	decrypted, err := Decrypt(ciphertext, "wrong-password")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(decrypted, plaintext) {
		t.Error("expected wrong password to fail to recover the original plaintext")
	}
}

func TestDecrypt_RejectsShortPayload(t *testing.T) {
	if _, err := Decrypt([]byte("short"), "password"); err == nil {
		t.Fatal("expected error for too-short payload")
	}
}
