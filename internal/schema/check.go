package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

type kind int

const (
	kindString kind = iota
	kindNumber
	kindBool
	kindArray
	kindObject
	kindNullableNumber
)

func (k kind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	case kindBool:
		return "boolean"
	case kindArray:
		return "array"
	case kindObject:
		return "object"
	default:
		return "number or null"
	}
}

// checker walks a parsed document and collects conformance issues as
// "path: message" strings.
type checker struct {
	issues []string
}

func (c *checker) addf(path, format string, args ...any) {
	c.issues = append(c.issues, path+": "+fmt.Sprintf(format, args...))
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func matches(v gjson.Result, k kind) bool {
	switch k {
	case kindString:
		return v.Type == gjson.String
	case kindNumber:
		return v.Type == gjson.Number
	case kindBool:
		return v.IsBool()
	case kindArray:
		return v.IsArray()
	case kindObject:
		return v.IsObject()
	case kindNullableNumber:
		return v.Type == gjson.Number || v.Type == gjson.Null
	}
	return false
}

// field checks obj[key] against k. Optional fields may be absent or null.
// The returned bool is true when the value exists and has the right type.
func (c *checker) field(obj gjson.Result, prefix, key string, k kind, required bool) (gjson.Result, bool) {
	path := join(prefix, key)
	v := obj.Get(gjson.Escape(key))
	if !v.Exists() {
		if required {
			c.addf(path, "required")
		}
		return v, false
	}
	if v.Type == gjson.Null && k != kindNullableNumber {
		if required {
			c.addf(path, "expected %s, got null", k)
		}
		return v, false
	}
	if !matches(v, k) {
		c.addf(path, "expected %s", k)
		return v, false
	}
	return v, true
}

func (c *checker) str(obj gjson.Result, prefix, key string, required bool) {
	c.field(obj, prefix, key, kindString, required)
}

func (c *checker) boolean(obj gjson.Result, prefix, key string, required bool) {
	c.field(obj, prefix, key, kindBool, required)
}

func (c *checker) enum(obj gjson.Result, prefix, key string, allowed []string) {
	v, ok := c.field(obj, prefix, key, kindString, true)
	if ok && !slices.Contains(allowed, v.String()) {
		c.addf(join(prefix, key), "must be one of %s", strings.Join(allowed, ", "))
	}
}

func (c *checker) stringArray(obj gjson.Result, prefix, key string, required bool) {
	arr, ok := c.field(obj, prefix, key, kindArray, required)
	if !ok {
		return
	}
	path := join(prefix, key)
	for i, el := range arr.Array() {
		if el.Type != gjson.String {
			c.addf(fmt.Sprintf("%s[%d]", path, i), "expected string")
		}
	}
}

// objects checks an array of objects, calling fn for each element with its
// bracketed path.
func (c *checker) objects(obj gjson.Result, prefix, key string, required bool, fn func(el gjson.Result, path string)) {
	arr, ok := c.field(obj, prefix, key, kindArray, required)
	if !ok {
		return
	}
	path := join(prefix, key)
	for i, el := range arr.Array() {
		elPath := fmt.Sprintf("%s[%d]", path, i)
		if !el.IsObject() {
			c.addf(elPath, "expected object")
			continue
		}
		fn(el, elPath)
	}
}

// record checks an object whose values must each satisfy one of kinds.
func (c *checker) record(obj gjson.Result, prefix, key string, kinds ...kind) {
	rec, ok := c.field(obj, prefix, key, kindObject, false)
	if !ok {
		return
	}
	path := join(prefix, key)
	rec.ForEach(func(k, v gjson.Result) bool {
		for _, want := range kinds {
			if matches(v, want) {
				return true
			}
		}
		c.addf(join(path, k.String()), "unsupported value type")
		return true
	})
}

func checkPricing(c *checker, root gjson.Result) {
	c.objects(root, "", "tiers", true, func(tier gjson.Result, path string) {
		c.str(tier, path, "name", true)
		c.field(tier, path, "price", kindNullableNumber, true)
		c.enum(tier, path, "billingCycle", BillingCycles)
		c.str(tier, path, "pricePerUnit", false)
		c.stringArray(tier, path, "features", true)
		c.record(tier, path, "limits", kindString, kindNumber)
	})
	c.str(root, "", "currency", false)
	c.stringArray(root, "", "billingCycles", false)
	c.boolean(root, "", "hasFreeTier", true)
	c.boolean(root, "", "hasEnterprise", true)
	c.str(root, "", "lastUpdated", false)
}

func checkFeatures(c *checker, root gjson.Result) {
	c.objects(root, "", "categories", true, func(cat gjson.Result, path string) {
		c.str(cat, path, "name", true)
		c.objects(cat, path, "features", true, func(f gjson.Result, fpath string) {
			c.str(f, fpath, "name", true)
			c.str(f, fpath, "description", false)
			c.str(f, fpath, "availability", false)
			c.boolean(f, fpath, "isNew", false)
		})
	})
	c.stringArray(root, "", "highlights", true)
}

func checkCompany(c *checker, root gjson.Result) {
	c.str(root, "", "name", true)
	for _, k := range []string{"legalName", "founded", "headquarters", "employeeCount"} {
		c.str(root, "", k, false)
	}
	if funding, ok := c.field(root, "", "funding", kindObject, false); ok {
		for _, k := range []string{"totalRaised", "lastRound", "lastRoundAmount", "lastRoundDate"} {
			c.str(funding, "funding", k, false)
		}
		c.stringArray(funding, "funding", "investors", false)
	}
	c.objects(root, "", "leadership", false, func(p gjson.Result, path string) {
		c.str(p, path, "name", true)
		c.str(p, path, "role", true)
		c.str(p, path, "linkedIn", false)
	})
	c.record(root, "", "socialLinks", kindString)
}

func checkCompliance(c *checker, root gjson.Result) {
	c.objects(root, "", "certifications", true, func(cert gjson.Result, path string) {
		c.str(cert, path, "name", true)
		c.enum(cert, path, "status", CertificationStates)
		c.str(cert, path, "validUntil", false)
		c.str(cert, path, "documentUrl", false)
	})
	c.stringArray(root, "", "securityFeatures", true)
	c.stringArray(root, "", "dataResidency", false)
	c.boolean(root, "", "gdprCompliant", false)
	c.boolean(root, "", "hipaaCompliant", false)
	c.boolean(root, "", "soc2", false)
	c.str(root, "", "fedRampStatus", false)
}

func checkIntegrations(c *checker, root gjson.Result) {
	c.objects(root, "", "categories", true, func(cat gjson.Result, path string) {
		c.str(cat, path, "name", true)
		c.objects(cat, path, "integrations", true, func(in gjson.Result, ipath string) {
			c.str(in, ipath, "name", true)
			c.enum(in, ipath, "type", IntegrationTypes)
			c.str(in, ipath, "docsUrl", false)
		})
	})
	c.field(root, "", "totalCount", kindNumber, true)
	c.boolean(root, "", "hasApi", true)
	c.str(root, "", "apiDocUrl", false)
	c.boolean(root, "", "hasWebhooks", true)
	c.boolean(root, "", "hasSdk", true)
	c.stringArray(root, "", "sdkLanguages", false)
}
