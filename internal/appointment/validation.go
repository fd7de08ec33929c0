package appointment

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-()]+$`)
)

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func normalizePatient(p PatientInfo) PatientInfo {
	return PatientInfo{
		Name:  strings.TrimSpace(p.Name),
		Email: strings.TrimSpace(p.Email),
		Phone: trimOptional(p.Phone),
	}
}

func validatePatient(p PatientInfo) error {
	if p.Name == "" {
		return &ValidationError{Field: "patient_name", Message: "patient name is required"}
	}
	if p.Email == "" {
		return &ValidationError{Field: "patient_email", Message: "email is required"}
	}
	if !emailPattern.MatchString(p.Email) {
		return &ValidationError{Field: "patient_email", Message: "invalid email format"}
	}
	if p.Phone != nil && !phonePattern.MatchString(*p.Phone) {
		return &ValidationError{Field: "patient_phone", Message: "invalid phone number"}
	}
	return nil
}

type DoctorInput struct {
	Name           string
	Specialization string
	Email          string
	Phone          *string
}

func normalizeDoctor(in DoctorInput) DoctorInput {
	return DoctorInput{
		Name:           strings.TrimSpace(in.Name),
		Specialization: strings.TrimSpace(in.Specialization),
		Email:          strings.TrimSpace(in.Email),
		Phone:          trimOptional(in.Phone),
	}
}

func validateDoctor(in DoctorInput) error {
	if in.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if in.Specialization == "" {
		return &ValidationError{Field: "specialization", Message: "specialization is required"}
	}
	if !emailPattern.MatchString(in.Email) {
		return &ValidationError{Field: "email", Message: "invalid email format"}
	}
	if in.Phone != nil && !phonePattern.MatchString(*in.Phone) {
		return &ValidationError{Field: "phone", Message: "invalid phone number"}
	}
	return nil
}

func validateDoctorUpdate(upd DoctorUpdate) (DoctorUpdate, error) {
	out := DoctorUpdate{Phone: trimOptional(upd.Phone)}
	if upd.Name != nil {
		v := strings.TrimSpace(*upd.Name)
		if v == "" {
			return DoctorUpdate{}, &ValidationError{Field: "name", Message: "name cannot be empty"}
		}
		out.Name = &v
	}
	if upd.Specialization != nil {
		v := strings.TrimSpace(*upd.Specialization)
		if v == "" {
			return DoctorUpdate{}, &ValidationError{Field: "specialization", Message: "specialization cannot be empty"}
		}
		out.Specialization = &v
	}
	if upd.Email != nil {
		v := strings.TrimSpace(*upd.Email)
		if !emailPattern.MatchString(v) {
			return DoctorUpdate{}, &ValidationError{Field: "email", Message: "invalid email format"}
		}
		out.Email = &v
	}
	if out.Phone != nil && !phonePattern.MatchString(*out.Phone) {
		return DoctorUpdate{}, &ValidationError{Field: "phone", Message: "invalid phone number"}
	}
	return out, nil
}
