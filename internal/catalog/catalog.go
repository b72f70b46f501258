// Package catalog lists the NC DAC Offender Public Information files that
// opiload knows how to load.
//
// The catalog is static. Digests are the published SHA-256 values of the
// download archive and of the two files it contains; an empty digest means
// "not verifiable".
package catalog

import (
	"strings"
)

// DefaultReference is the file whose key column anchors every foreign key.
const DefaultReference = "OFNT3AA1"

// File describes one downloadable data file.
type File struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`

	ZipSHA256 string `json:"zip_sha256,omitempty" yaml:"zip_sha256,omitempty"`
	DesSHA256 string `json:"des_sha256,omitempty" yaml:"des_sha256,omitempty"`
	DatSHA256 string `json:"dat_sha256,omitempty" yaml:"dat_sha256,omitempty"`
}

// Table returns the storage table name for f.
func (f File) Table() string { return TableName(f.Name) }

const baseURL = "https://www.doc.state.nc.us/offenders/"

func file(id, name, zipSum, desSum, datSum string) File {
	return File{
		ID:        id,
		Name:      name,
		URL:       baseURL + id + ".zip",
		ZipSHA256: zipSum,
		DesSHA256: desSum,
		DatSHA256: datSum,
	}
}

var files = []File{
	file("OFNT3AA1", "Offender Profile",
		"95648caeaa88969b992cdcb1b68806e5fdee768313481eb01b5940fbbe4ec74a",
		"7fe77769b1590a6731d215960e2fae1161e0f6aaa4891b967ead3849745f3310",
		"53d25ad346658d6c4060ddb8e61f1af47135d0ad2c927813eacccb891c82f4d5"),
	file("APPT7AA1", "Probation and Parole Client Profile",
		"acba721152e5a69780b8c31b45a2fb13c576592da51454d7781e808f4f56405e",
		"b00252add83de8179f4a0644a3d528bb7058d23325647be6bbd9a072672dd7a0",
		"95b1e3b2afa3445dbeacd0c3a3795ad40a70fe35a3de301ac643bff2e158bac4"),
	file("APPT9BJ1", "Impact Scheduling Request",
		"b60900557c42801731a4d9fa8d8b967194e672088d69e3ec61fa647e0968f9f3",
		"bbfe4df95ae45c050c2c67cfcfda92cb968ec4a35e969494b5726ee713f4afce",
		"3ac0c5dfcb3cb0c67d754dfea20de2aa23814909a4dfc1659bc2f51af85b7830"),
	file("INMT4AA1", "Inmate Profile",
		"95cc430a8730255285bc01be9ad8c92ad48d31d71ba904e40c1f9cdb6c3a5bb1",
		"8eec828036226856d1be9ec976913b6d159c9f8411a1d495343e4801d8a9c07c",
		"fdb01a4bb931258691c26627ca9a0e07820f275d55ab076918ea09c5ae650ac1"),
	file("INMT4BB1", "Sentence Computations",
		"2bf9c1f549f932ba7209148138af752099fe8e79b54998c64ff0b5e6ceb03842",
		"ba8875855bfc81a5e0fae06580bffe98ed6fa5f6e93018b4f4d35d3fb63ab847",
		"ba7f9d21412fca709a13784b7a31e814bbc8281f3092b2d1ed4c84dea289f548"),
	file("INMT4CA1", "Parole Analyst Review",
		"79ee997f22378e5f0909cba01d5da4e2f040b0a415122c98df89c0128a0d51b5",
		"786d26856e80dfc24ff3352680d3c444acba56fb42b40eac82b7b2ca1c8debcf",
		"2e32ca56e8a7325fd39dbeb5d3207fd2949932490a93158ae8b740b28a22c2fe"),
	file("INMT9CF1", "Disciplinary Infractions",
		"8abba1dca907da4028f5714d5771b63cd6f846a5ffea64f6fc6f732c23c00d77",
		"9b86292ef8d90af5662b83d3e84621594d885fd6ebd748a4095f1e3169c9c7b5",
		"de4f629d260c9d9fdf6f150a72e79d7923013f2cf6eb991cae66ec1ca7bffb13"),
	file("OFNT1BA1", "Financial Obligation",
		"b960f1e304566030c9a675b8882c3ccb6e0009cdea54be2ce20968bb4fb397b6",
		"3146f4c95790d220614140a291bf4ae7d99914d2bb4030db3640bdc3ad4a47f9",
		"0ccac128e63570c05fb70eb2459cfd3440187f7b4f33a907b2954b41780a6460"),
	// The upstream name carries the typo; table names derive from it.
	file("OFNT3BB1", "Court Commmitment",
		"09a4998925675643ed4130fca938bd04cb9c746965b8eec177890b495f817591",
		"857ccc75e587e7c15436ad8dca7414764ab08fc606392556d7c3b2fe3b94e44e",
		"290265eeceecf990d73bdfcc583025d9c07e8c201988a509d07da00e4f2a7b36"),
	file("OFNT3CE1", "Sentence Component",
		"6e346c3d3cd435474d36061626b1d519811de7d69ce0d4a610a4f9ccfae44e19",
		"f0f3c7bf3df7d2749da40021cacba35aece16fdd69bc7fc173557c23289c5453",
		"23affe4d8b2e1c6c1b3fb1bf7d7305793e9a13e196333d0f026d6d47a9073af3"),
	file("OFNT3DE1", "Special Conditions and Sanctions",
		"b4eecb632506fe291da77aca9cb6a9c1eec27a9c2b489260ed22b091e2247043",
		"2f895e17639df2b1c4e178577036e09d9f6e8b5c5d3fdf7a4a3ee4ae1dbab08c",
		"feaf0e3d993bf7e92816a9873a13ab778efe0d0b32b80a2279a15b933b686dd0"),
	file("OFNT9BE1", "Warrant Issued",
		"00b482035dd4b0b08f0f5de40b7f3e46fe266ffdf9c04b81b5f0ccef9c1278a3",
		"22f2036f7e18a3329af128f9813259fc1946277f3ac3de17d42e88a516a3038d",
		"f3d01914f6e58f04c6fde243372bc7f2c6e52d2a6201501778185f15bf6cc7a6"),
}

// All returns a copy of the catalog in its canonical order.
func All() []File {
	out := make([]File, len(files))
	copy(out, files)
	return out
}

// Lookup finds a file by id, ignoring case.
func Lookup(id string) (File, bool) {
	id = strings.TrimSpace(id)
	for _, f := range files {
		if strings.EqualFold(f.ID, id) {
			return f, true
		}
	}
	return File{}, false
}

// Others returns every catalog file except the one with id ref, preserving
// catalog order.
func Others(ref string) []File {
	out := make([]File, 0, len(files))
	for _, f := range files {
		if strings.EqualFold(f.ID, ref) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// IDs returns the catalog ids in canonical order.
func IDs() []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.ID
	}
	return out
}

// TableName converts a human file name into a table identifier: lowercase,
// every non [a-z0-9] byte replaced by '_', runs of '_' collapsed, and
// leading/trailing '_' removed.
//
// Examples:
//   - "Offender Profile"                 => "offender_profile"
//   - "Special Conditions and Sanctions" => "special_conditions_and_sanctions"
//   - "  Foo--Bar  "                     => "foo_bar"
func TableName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	prevUnderscore := false
	for _, r := range strings.ToLower(name) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			if !prevUnderscore {
				b.WriteByte('_')
			}
			prevUnderscore = true
			continue
		}
		b.WriteRune(r)
		prevUnderscore = false
	}
	return strings.Trim(b.String(), "_")
}
